package store

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/qaforge/qaforge/pkg/runner"
)

// CatalogManifest describes the test catalog seeded at startup. The
// orchestration core only consumes catalog entries; discovery happens
// elsewhere and lands here as a manifest.
type CatalogManifest struct {
	Files []CatalogFile `yaml:"files"`
}

// CatalogFile is one source file and its cases. All cases in a file
// share the file's runner category.
type CatalogFile struct {
	Path   string        `yaml:"path"`
	Runner string        `yaml:"runner"`
	Cases  []CatalogCase `yaml:"cases"`
}

// CatalogCase is one test case entry.
type CatalogCase struct {
	Title  string `yaml:"title"`
	Active *bool  `yaml:"active,omitempty"`
}

// LoadCatalogManifest reads and parses a catalog manifest file.
func LoadCatalogManifest(path string) (*CatalogManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog manifest: %w", err)
	}

	var manifest CatalogManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing catalog manifest: %w", err)
	}

	return &manifest, nil
}

// SeedCatalog upserts manifest files and cases, keyed by file path and
// case title. Existing ids are preserved so schedules stay valid
// across re-seeds.
func (s *store) SeedCatalog(
	ctx context.Context, manifest *CatalogManifest,
) error {
	for _, mf := range manifest.Files {
		if mf.Path == "" {
			return fmt.Errorf("%w: catalog file requires a path", ErrValidation)
		}

		if !runner.ValidCategory(runner.Category(mf.Runner)) {
			return fmt.Errorf(
				"%w: catalog file %q has unknown runner category %q",
				ErrValidation, mf.Path, mf.Runner,
			)
		}

		file := TestFile{
			ID:     uuid.NewString(),
			Path:   mf.Path,
			Runner: mf.Runner,
		}

		if err := s.db.WithContext(ctx).
			Where("path = ?", mf.Path).
			Assign(TestFile{Runner: mf.Runner}).
			FirstOrCreate(&file).Error; err != nil {
			return fmt.Errorf("seeding file %q: %w", mf.Path, err)
		}

		for _, mc := range mf.Cases {
			active := true
			if mc.Active != nil {
				active = *mc.Active
			}

			testCase := TestCase{
				ID:     uuid.NewString(),
				FileID: file.ID,
				Title:  mc.Title,
				Active: active,
			}

			if err := s.db.WithContext(ctx).
				Where("file_id = ? AND title = ?", file.ID, mc.Title).
				Assign(TestCase{Active: active}).
				FirstOrCreate(&testCase).Error; err != nil {
				return fmt.Errorf("seeding case %q: %w", mc.Title, err)
			}
		}
	}

	s.log.WithField("files", len(manifest.Files)).Info("Seeded test catalog")

	return nil
}

// GetFile fetches one catalog file by id.
func (s *store) GetFile(ctx context.Context, id string) (*TestFile, error) {
	var file TestFile
	if err := s.db.WithContext(ctx).
		First(&file, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}

	return &file, nil
}

// ListFiles returns all catalog files.
func (s *store) ListFiles(ctx context.Context) ([]TestFile, error) {
	var files []TestFile
	if err := s.db.WithContext(ctx).
		Order("path ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	return files, nil
}

// GetCasesByIDs fetches the given catalog cases.
func (s *store) GetCasesByIDs(
	ctx context.Context, ids []string,
) ([]TestCase, error) {
	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("getting cases: %w", err)
	}

	return cases, nil
}

// ListActiveCasesByFile returns all active cases in a file.
func (s *store) ListActiveCasesByFile(
	ctx context.Context, fileID string,
) ([]TestCase, error) {
	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Where("file_id = ? AND active = ?", fileID, true).
		Order("title ASC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing active cases: %w", err)
	}

	return cases, nil
}
