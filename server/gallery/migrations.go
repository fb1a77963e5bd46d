package gallery

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE person(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_person_name ON person(name);

		CREATE TABLE face_feature(
			id INTEGER PRIMARY KEY,
			person_id INT NOT NULL,
			created_at INT NOT NULL,
			vector BLOB NOT NULL
		);
		CREATE INDEX idx_face_feature_person_id ON face_feature(person_id);
	`))

	return migs
}
