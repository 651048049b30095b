package app

import (
	"fmt"
	"os"

	"sgc/internal/config"
)

// ResolveConfig loads sgc.yml from the workspace. When the file is missing a
// default one is written so a fresh workspace works out of the box.
func ResolveConfig(workspace, projectOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		id := projectOverride
		if id == "" {
			id = "sgc"
		}
		path := config.Path(workspace)
		if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
			return nil, fmt.Errorf("seed config %s: %w", path, err)
		}
		cfg = config.Default(id)
	}
	if projectOverride != "" {
		cfg.Project.ID = projectOverride
	}
	return cfg, nil
}
