package gallery

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Person struct {
	BaseModel
	Name      string      `json:"name"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}

func (Person) TableName() string {
	return "person"
}

// FaceFeature is one enrolled feature vector.
// A person can have many, eg from different photos.
type FaceFeature struct {
	BaseModel
	PersonID  int64       `json:"personID"`
	CreatedAt dbh.IntTime `json:"createdAt"`
	Vector    []byte      `json:"-"` // Little endian float32
}

func (FaceFeature) TableName() string {
	return "face_feature"
}
