package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/okian/cadenza/internal/domain/model"
)

// Seed is a fixture of the documents owned by external CRUD services.
type Seed struct {
	Students []SeedStudent `yaml:"students"`
	Courses  []SeedCourse  `yaml:"courses"`
	Classes  []SeedClass   `yaml:"classes"`
}

// SeedStudent is a student fixture.
type SeedStudent struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// SeedCourse is a course fixture.
type SeedCourse struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	ClassIDs []string `yaml:"class_ids"`
}

// SeedClass is a class fixture. A class naming a course is added to that
// course's class list.
type SeedClass struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	CourseID string `yaml:"course_id"`
}

// LoadSeed reads a YAML fixture file.
func LoadSeed(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(b)
}

// ParseSeed decodes a YAML fixture and checks ids are present.
func ParseSeed(b []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	for i, st := range s.Students {
		if st.ID == "" {
			return Seed{}, fmt.Errorf("seed student #%d: missing id", i)
		}
	}
	for i, c := range s.Courses {
		if c.ID == "" {
			return Seed{}, fmt.Errorf("seed course #%d: missing id", i)
		}
	}
	for i, c := range s.Classes {
		if c.ID == "" {
			return Seed{}, fmt.Errorf("seed class #%d: missing id", i)
		}
	}
	return s, nil
}

// Apply creates every fixture document in store. Documents that already
// exist are left untouched so a persistent backend can be reseeded on every
// start.
func (s Seed) Apply(ctx context.Context, store Store) (created int, err error) {
	courses := make([]model.Course, 0, len(s.Courses))
	for _, c := range s.Courses {
		courses = append(courses, model.Course{ID: c.ID, Title: c.Title, ClassIDs: slices.Clone(c.ClassIDs)})
	}
	for _, cl := range s.Classes {
		for i := range courses {
			if courses[i].ID == cl.CourseID && !slices.Contains(courses[i].ClassIDs, cl.ID) {
				courses[i].ClassIDs = append(courses[i].ClassIDs, cl.ID)
			}
		}
	}

	add := func(err error) error {
		switch {
		case err == nil:
			created++
			return nil
		case errors.Is(err, ErrAlreadyExists):
			return nil
		default:
			return err
		}
	}

	for _, st := range s.Students {
		if err := add(store.CreateStudent(ctx, model.Student{ID: st.ID, Name: st.Name, Email: st.Email})); err != nil {
			return created, fmt.Errorf("seed student %s: %w", st.ID, err)
		}
	}
	for _, c := range courses {
		if err := add(store.CreateCourse(ctx, c)); err != nil {
			return created, fmt.Errorf("seed course %s: %w", c.ID, err)
		}
	}
	for _, cl := range s.Classes {
		if err := add(store.CreateClass(ctx, model.Class{ID: cl.ID, Title: cl.Title, CourseID: cl.CourseID})); err != nil {
			return created, fmt.Errorf("seed class %s: %w", cl.ID, err)
		}
	}
	return created, nil
}
