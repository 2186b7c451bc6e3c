package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/cadenza/internal/adapters/repository"
)

const seedYAML = `
students:
  - id: s-1
    name: Ada
    email: ada@example.com
  - id: s-2
    name: Grace
courses:
  - id: course-1
    title: Piano I
    class_ids: [class-1]
classes:
  - id: class-1
    title: Scales
    course_id: course-1
  - id: class-2
    title: Chords
    course_id: course-1
`

func TestSeed_Apply(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	seed, err := repository.LoadSeed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	s := repository.NewMemoryStore(ctx, repository.WithMetricsUpdateInterval(0))
	defer s.Close()

	n, err := seed.Apply(ctx, s)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 documents created, got %d", n)
	}

	course, err := s.GetCourse(ctx, "course-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(course.ClassIDs) != 2 || course.ClassIDs[1] != "class-2" {
		t.Errorf("class list not merged from classes: %v", course.ClassIDs)
	}

	n, err = seed.Apply(ctx, s)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if n != 0 {
		t.Errorf("reapply should create nothing, created %d", n)
	}
}

func TestSeed_Invalid(t *testing.T) {
	if _, err := repository.ParseSeed([]byte("students:\n  - name: nobody\n")); err == nil {
		t.Error("expected error for student without id")
	}
	for _, in := range []string{"students: [\n", "students: 5", "courses: {id: c1}"} {
		if _, err := repository.ParseSeed([]byte(in)); err == nil {
			t.Errorf("expected decode error for %q", in)
		}
	}
	if _, err := repository.LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
