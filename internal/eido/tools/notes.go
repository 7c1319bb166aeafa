package tools

import (
	"context"
	"fmt"
	"strings"

	"thalis/internal/storage"
)

const notePrefix = "note:"

// Notes stores small per-identity key/value notes in the settings table.
type Notes struct {
	store storage.Store
}

func NewNotes(store storage.Store) *Notes {
	return &Notes{store: store}
}

func (*Notes) Name() string { return "notes" }
func (*Notes) Signature() string {
	return "notes(action: string, key: string, value?: string)"
}
func (*Notes) Doc() string {
	return "Save, read, or list personal notes. Actions: put, get, list."
}

func (n *Notes) Invoke(ctx context.Context, identity string, args []any, kwargs map[string]any) (any, error) {
	action, err := stringArg("action", args, kwargs, 0)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(action) {
	case "put":
		key, err := stringArg("key", args, kwargs, 1)
		if err != nil {
			return nil, err
		}
		value, err := stringArg("value", args, kwargs, 2)
		if err != nil {
			return nil, err
		}
		if err := n.store.PutSetting(ctx, identity, notePrefix+key, value); err != nil {
			return nil, err
		}
		return "saved", nil

	case "get":
		key, err := stringArg("key", args, kwargs, 1)
		if err != nil {
			return nil, err
		}
		all, err := n.store.Settings(ctx, identity)
		if err != nil {
			return nil, err
		}
		v, ok := all[notePrefix+key]
		if !ok {
			return nil, fmt.Errorf("no note named %q", key)
		}
		return v, nil

	case "list":
		all, err := n.store.Settings(ctx, identity)
		if err != nil {
			return nil, err
		}
		var keys []string
		for k := range all {
			if strings.HasPrefix(k, notePrefix) {
				keys = append(keys, strings.TrimPrefix(k, notePrefix))
			}
		}
		return keys, nil

	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
