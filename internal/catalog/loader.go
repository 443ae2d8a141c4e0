package catalog

import (
	"encoding/json"
	"os"

	appErr "secrange/pkg/errors"
)

// Document is the on-disk catalog shape.
type Document struct {
	SchemaVersion string       `json:"schema_version"`
	Challenges    []Definition `json:"challenges"`
}

// Load parses and validates the catalog at path. The result is all-or-nothing:
// any malformed entry fails the whole load.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.Wrapf(err, appErr.CatalogNotFound, "catalog file not found: %s", path)
		}
		return nil, appErr.Wrapf(err, appErr.SchemaError, "read catalog %s failed", path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, appErr.Wrapf(err, appErr.SchemaError, "parse catalog %s failed", path)
	}
	if doc.Challenges == nil {
		return nil, appErr.Newf(appErr.SchemaError, "catalog %s missing 'challenges' key", path)
	}

	if err := validateAll(doc.Challenges); err != nil {
		return nil, err
	}
	return doc.Challenges, nil
}

// LoadWithImports loads the master catalog and merges an optional imported
// catalog. Imported entries pass the same validation; on id conflict the
// master entry wins. A missing imported file is not an error.
func LoadWithImports(masterPath, importedPath string) ([]Definition, error) {
	defs, err := Load(masterPath)
	if err != nil {
		return nil, err
	}
	if importedPath == "" {
		return defs, nil
	}

	imported, err := Load(importedPath)
	if err != nil {
		if appErr.Is(err, appErr.CatalogNotFound) {
			return defs, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		seen[def.ID] = struct{}{}
	}
	for _, def := range imported {
		if _, ok := seen[def.ID]; ok {
			continue
		}
		seen[def.ID] = struct{}{}
		defs = append(defs, def)
	}
	return defs, nil
}

func validateAll(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := validate(def); err != nil {
			return err
		}
		if _, ok := seen[def.ID]; ok {
			return appErr.Newf(appErr.DuplicateChallenge, "duplicate challenge id: %s", def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}

func validate(def Definition) error {
	switch {
	case def.ID == "":
		return appErr.Newf(appErr.SchemaError, "challenge id is required")
	case def.Name == "":
		return appErr.Newf(appErr.SchemaError, "challenge %s: name is required", def.ID)
	case def.Category == "":
		return appErr.Newf(appErr.SchemaError, "challenge %s: category is required", def.ID)
	case def.Points <= 0:
		return appErr.Newf(appErr.SchemaError, "challenge %s: points must be positive", def.ID)
	case def.ContainerSpec.Image == "":
		return appErr.Newf(appErr.SchemaError, "challenge %s: container image is required", def.ID)
	}

	if _, ok := validDifficulties[def.Difficulty]; !ok {
		return appErr.Newf(appErr.InvalidDifficulty,
			"challenge %s: invalid difficulty %q", def.ID, def.Difficulty)
	}

	// The memory limit must at least parse; the security resolver enforces
	// the ceiling later.
	if _, err := def.ContainerSpec.ResourceLimits.MemoryBytes(); err != nil {
		return err
	}

	for _, vol := range def.ContainerSpec.Volumes {
		if vol.Target == "" {
			return appErr.Newf(appErr.SchemaError, "challenge %s: volume target is required", def.ID)
		}
		if vol.Type != VolumeTypeTmpfs && vol.Type != VolumeTypeNamed {
			return appErr.Newf(appErr.SchemaError,
				"challenge %s: unknown volume type %q", def.ID, vol.Type)
		}
	}
	return nil
}
