package gateway

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/models"
)

// Registry dispatches on the request's Platform tag.
type Registry struct {
	adapters map[models.Platform]Gateway
	live     map[models.Platform]bool
}

// NewRegistry builds every known adapter; only platforms listed in
// Settings.LivePlatforms accept new donation requests.
func NewRegistry(s config.Settings, hc *http.Client) *Registry {
	r := NewRegistryWith(
		NewJustGiving(s.JustGiving, s.ReturnURL, hc),
		NewEveryOrg(s.EveryOrg, s.ReturnURL, hc),
	)
	r.SetLive(s.LivePlatforms)
	return r
}

// NewRegistryWith registers the given adapters, all live.
func NewRegistryWith(adapters ...Gateway) *Registry {
	r := &Registry{
		adapters: map[models.Platform]Gateway{},
		live:     map[models.Platform]bool{},
	}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
		r.live[a.Platform()] = true
	}
	return r
}

func (r *Registry) SetLive(platforms []string) {
	r.live = map[models.Platform]bool{}
	for _, p := range platforms {
		parsed, err := models.ParsePlatform(p)
		if err != nil {
			continue
		}
		if _, ok := r.adapters[parsed]; ok {
			r.live[parsed] = true
		}
	}
}

func (r *Registry) For(p models.Platform) (Gateway, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no gateway for platform %q: %w", p, ErrUnsupported)
	}
	return a, nil
}

func (r *Registry) IsLive(p models.Platform) bool {
	return r.live[p]
}

func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
