package library

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// QuarterNames are the display names of the four quarters, index 0 is quarter 1
var QuarterNames = []string{"1st", "2nd", "3rd", "4th"}

// Catalog is the curriculum: which subjects a grade studies in which quarter
type Catalog struct {
	Weeks  int          `yaml:"weeks"`
	Grades []GradeEntry `yaml:"grades"`
}

// GradeEntry lists the subjects of one grade per semester
type GradeEntry struct {
	Grade int `yaml:"grade"`
	// FirstSemester applies to quarters 1 and 2, SecondSemester to quarters 3 and 4
	FirstSemester  []string `yaml:"first_semester"`
	SecondSemester []string `yaml:"second_semester"`
}

// DefaultCatalog returns the built in curriculum
func DefaultCatalog() *Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return catalog
}

// LoadCatalog reads a YAML catalog from disk, an empty path gives the built in one
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read catalog %s: %w", path, err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	if catalog.Weeks <= 0 {
		return nil, fmt.Errorf("catalog must define a positive number of weeks")
	}
	if len(catalog.Grades) == 0 {
		return nil, fmt.Errorf("catalog has no grades")
	}
	seen := make(map[int]bool)
	for _, g := range catalog.Grades {
		if seen[g.Grade] {
			return nil, fmt.Errorf("grade %d listed twice", g.Grade)
		}
		seen[g.Grade] = true
	}
	return &catalog, nil
}

// GradeNumbers returns the grade numbers in catalog order
func (c *Catalog) GradeNumbers() []int {
	grades := make([]int, 0, len(c.Grades))
	for _, g := range c.Grades {
		grades = append(grades, g.Grade)
	}
	return grades
}

// Quarters returns the valid quarter numbers
func (c *Catalog) Quarters() []int {
	return []int{1, 2, 3, 4}
}

// WeekNumbers returns 1..Weeks
func (c *Catalog) WeekNumbers() []int {
	weeks := make([]int, c.Weeks)
	for i := range weeks {
		weeks[i] = i + 1
	}
	return weeks
}

// Subjects returns the subjects of a grade in the given quarter
func (c *Catalog) Subjects(grade, quarter int) ([]string, error) {
	if quarter < 1 || quarter > 4 {
		return nil, fmt.Errorf("%w: quarter %d", ErrInvalidLocation, quarter)
	}
	for _, g := range c.Grades {
		if g.Grade != grade {
			continue
		}
		if quarter <= 2 {
			return g.FirstSemester, nil
		}
		return g.SecondSemester, nil
	}
	return nil, fmt.Errorf("%w: grade %d", ErrInvalidLocation, grade)
}

// HasSubject reports whether subject is taught in grade and quarter
func (c *Catalog) HasSubject(grade, quarter int, subject string) bool {
	subjects, err := c.Subjects(grade, quarter)
	if err != nil {
		return false
	}
	for _, s := range subjects {
		if s == subject {
			return true
		}
	}
	return false
}
