package gallery

// Package gallery stores the feature vectors of known people, and finds the
// people that best match a new face.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/faceid/pkg/recognition"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var ErrEmptyName = errors.New("Person name may not be empty")
var ErrEmptyVector = errors.New("Feature vector may not be empty")

type Gallery struct {
	Log logs.Log
	DB  *gorm.DB
}

// Match is the best similarity between a query and one person's features
type Match struct {
	PersonID   int64   `json:"personID"`
	Name       string  `json:"name"`
	Similarity float32 `json:"similarity"`
}

// PersonSummary is a person and the number of features enrolled for them
type PersonSummary struct {
	Person
	NumFeatures int `json:"numFeatures"`
}

func NewGallery(log logs.Log, dbFilename string) (*Gallery, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &Gallery{
		Log: log,
		DB:  db,
	}, nil
}

func (g *Gallery) Close() {
	if sqlDB, err := g.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Enroll adds a feature vector to the person called name, creating the
// person if they don't exist yet. Returns the person's ID.
func (g *Gallery) Enroll(name string, vector []float32) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptyName
	}
	if len(vector) == 0 {
		return 0, ErrEmptyVector
	}
	now := dbh.MakeIntTime(time.Now())
	person := Person{}
	err := g.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", name).Limit(1).Find(&person).Error; err != nil {
			return err
		}
		if person.ID == 0 {
			person = Person{Name: name, CreatedAt: now}
			if err := tx.Create(&person).Error; err != nil {
				return err
			}
			g.Log.Infof("Enrolled new person %v '%v'", person.ID, name)
		}
		feature := FaceFeature{
			PersonID:  person.ID,
			CreatedAt: now,
			Vector:    encodeVector(vector),
		}
		return tx.Create(&feature).Error
	})
	if err != nil {
		return 0, fmt.Errorf("Failed to enroll '%v': %w", name, err)
	}
	return person.ID, nil
}

// Search returns the people whose features are most similar to vector, best first.
// Each person appears at most once, with the similarity of their closest feature.
// If limit is zero, all people are returned.
func (g *Gallery) Search(vector []float32, limit int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	features := []FaceFeature{}
	if err := g.DB.Find(&features).Error; err != nil {
		return nil, err
	}
	best := map[int64]float32{}
	for _, f := range features {
		stored := decodeVector(f.Vector)
		if len(stored) != len(vector) {
			// Enrolled with a different recognition model
			continue
		}
		sim := recognition.Similarity(vector, stored)
		if prev, ok := best[f.PersonID]; !ok || sim > prev {
			best[f.PersonID] = sim
		}
	}
	if len(best) == 0 {
		return []Match{}, nil
	}

	ids := make([]int64, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	people := []Person{}
	if err := g.DB.Where("id IN (?)", ids).Find(&people).Error; err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(people))
	for _, p := range people {
		matches = append(matches, Match{
			PersonID:   p.ID,
			Name:       p.Name,
			Similarity: best[p.ID],
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PersonID < matches[j].PersonID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List returns all enrolled people, ordered by name
func (g *Gallery) List() ([]PersonSummary, error) {
	people := []Person{}
	if err := g.DB.Order("name").Find(&people).Error; err != nil {
		return nil, err
	}
	type count struct {
		PersonID int64
		N        int
	}
	counts := []count{}
	if err := g.DB.Model(&FaceFeature{}).Select("person_id, COUNT(*) AS n").Group("person_id").Scan(&counts).Error; err != nil {
		return nil, err
	}
	byPerson := map[int64]int{}
	for _, c := range counts {
		byPerson[c.PersonID] = c.N
	}
	result := make([]PersonSummary, 0, len(people))
	for _, p := range people {
		result = append(result, PersonSummary{Person: p, NumFeatures: byPerson[p.ID]})
	}
	return result, nil
}

// Delete removes a person and all of their features.
// Returns false if the person did not exist.
func (g *Gallery) Delete(personID int64) (bool, error) {
	found := false
	err := g.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("person_id = ?", personID).Delete(&FaceFeature{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Person{}, personID)
		found = res.RowsAffected != 0
		return res.Error
	})
	if err != nil {
		return false, err
	}
	if found {
		g.Log.Infof("Deleted person %v", personID)
	}
	return found, nil
}
