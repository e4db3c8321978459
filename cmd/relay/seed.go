package main

import (
	"context"

	"github.com/ajitpratap0/relay/pkg/store"
)

// importIntegrations stores every integration of a seed file with its
// field mappings and returns the assigned ids
func importIntegrations(ctx context.Context, st store.Store, path string) ([]int64, error) {
	f, err := readSeedFile(path)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(f.Integrations))
	for _, s := range f.Integrations {
		in, mappings := s.toIntegration()
		id, err := st.CreateIntegration(ctx, in)
		if err != nil {
			return ids, err
		}
		if err := st.SetFieldMappings(ctx, id, mappings); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
