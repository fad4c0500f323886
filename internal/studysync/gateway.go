package studysync

import (
	"context"
	"fmt"
	"strings"

	"github.com/studykit/studysync/internal/material"
)

// Gateway issues direct edits. It is deliberately optimistic-free: the
// store only changes after the server's authoritative response, applied
// through the same reconcile path the poller and push listener use, so
// a rejected or normalized edit never leaves divergent local state.
type Gateway struct {
	client RemoteClient
	store  *material.Store
}

func NewGateway(client RemoteClient, store *material.Store) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Gateway{client: client, store: store}, nil
}

func (g *Gateway) Rename(ctx context.Context, id int64, fileName string) (material.Material, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return material.Material{}, fmt.Errorf("file name is required")
	}
	updated, err := g.client.UpdateMaterial(ctx, id, MaterialPatch{FileName: &fileName})
	if err != nil {
		return material.Material{}, err
	}
	g.store.Reconcile(updated)
	return updated, nil
}

func (g *Gateway) SetStatus(ctx context.Context, id int64, status material.Status) (material.Material, error) {
	if !status.Valid() {
		return material.Material{}, fmt.Errorf("invalid processing status: %q", status)
	}
	updated, err := g.client.UpdateMaterial(ctx, id, MaterialPatch{ProcessingStatus: &status})
	if err != nil {
		return material.Material{}, err
	}
	g.store.Reconcile(updated)
	return updated, nil
}

// Upload creates a new material. The returned record usually starts in
// status pending; later transitions arrive via poll or push.
func (g *Gateway) Upload(ctx context.Context, fileName string, content []byte) (material.Material, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return material.Material{}, fmt.Errorf("file name is required")
	}
	created, err := g.client.UploadMaterial(ctx, fileName, content)
	if err != nil {
		return material.Material{}, err
	}
	g.store.Reconcile(created)
	return created, nil
}

func (g *Gateway) Delete(ctx context.Context, id int64) error {
	if err := g.client.DeleteMaterial(ctx, id); err != nil {
		return err
	}
	g.store.Remove(id)
	return nil
}
