package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed_data.yaml
var seedData []byte

type seedFile struct {
	Providers []struct {
		Name       string `yaml:"name"`
		APIURL     string `yaml:"apiURL"`
		EnvKeyName string `yaml:"envKeyName"`
	} `yaml:"providers"`
	Models []struct {
		Key       string `yaml:"key"`
		Name      string `yaml:"name"`
		Provider  string `yaml:"provider"`
		MaxTokens int    `yaml:"maxTokens"`
		Category  string `yaml:"category"`
	} `yaml:"models"`
}

// Seed inserts the built-in provider and model catalog once. The count guard
// keeps reseeding cheap; unique indexes on provider name and model key make a
// concurrent second seed fail on the constraint instead of double-inserting.
func (r *Repo) Seed(ctx context.Context) error {
	var f seedFile
	if err := yaml.Unmarshal(seedData, &f); err != nil {
		return fmt.Errorf("parse seed data: %w", err)
	}

	var providerCount int64
	if err := r.db.WithContext(ctx).Model(&Provider{}).Count(&providerCount).Error; err != nil {
		return err
	}
	if providerCount == 0 {
		for _, p := range f.Providers {
			if err := r.db.WithContext(ctx).Create(&Provider{
				Name:       p.Name,
				APIURL:     p.APIURL,
				EnvKeyName: p.EnvKeyName,
				Active:     true,
			}).Error; err != nil {
				return fmt.Errorf("seed provider %s: %w", p.Name, err)
			}
		}
	}

	var modelCount int64
	if err := r.db.WithContext(ctx).Model(&Model{}).Count(&modelCount).Error; err != nil {
		return err
	}
	if modelCount == 0 {
		for _, m := range f.Models {
			if err := r.db.WithContext(ctx).Create(&Model{
				Key:          m.Key,
				Name:         m.Name,
				ProviderName: m.Provider,
				MaxTokens:    m.MaxTokens,
				Category:     m.Category,
				Active:       true,
			}).Error; err != nil {
				return fmt.Errorf("seed model %s: %w", m.Key, err)
			}
		}
	}

	return nil
}
