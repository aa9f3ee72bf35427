package gateway

import (
	"path/filepath"

	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

type routesDocument struct {
	Routes map[string]RouteEntry `json:"routes"`
}

// routeStore is the whole-file routes.json wrapper, keyed by session key.
type routeStore struct {
	path string
	doc  routesDocument
}

func loadRouteStore(gatewayDir string) (*routeStore, error) {
	rs := &routeStore{path: filepath.Join(gatewayDir, routesFile)}
	if _, err := jsonfile.ReadValue(rs.path, &rs.doc); err != nil {
		return nil, err
	}
	if rs.doc.Routes == nil {
		rs.doc.Routes = make(map[string]RouteEntry)
	}
	return rs, nil
}

func (rs *routeStore) save() error {
	return jsonfile.WriteValue(rs.path, rs.doc)
}

func (rs *routeStore) update(sessionKey string, entry RouteEntry) error {
	rs.doc.Routes[sessionKey] = entry
	return rs.save()
}

func (rs *routeStore) get(sessionKey string) (RouteEntry, bool) {
	entry, ok := rs.doc.Routes[sessionKey]
	return entry, ok
}

func (rs *routeStore) entries() map[string]RouteEntry {
	out := make(map[string]RouteEntry, len(rs.doc.Routes))
	for k, v := range rs.doc.Routes {
		out[k] = v
	}
	return out
}

type idempotencyDocument struct {
	Keys map[string]int64 `json:"keys"`
}

// idempotencyStore is the whole-file idempotency.json wrapper.
type idempotencyStore struct {
	path string
	doc  idempotencyDocument
}

func loadIdempotencyStore(gatewayDir string) (*idempotencyStore, error) {
	is := &idempotencyStore{path: filepath.Join(gatewayDir, idempotencyFile)}
	if _, err := jsonfile.ReadValue(is.path, &is.doc); err != nil {
		return nil, err
	}
	if is.doc.Keys == nil {
		is.doc.Keys = make(map[string]int64)
	}
	return is, nil
}

func (is *idempotencyStore) save() error {
	return jsonfile.WriteValue(is.path, is.doc)
}

func (is *idempotencyStore) seen(key string) bool {
	_, ok := is.doc.Keys[key]
	return ok
}

func (is *idempotencyStore) insert(key string, ts int64) error {
	is.doc.Keys[key] = ts
	return is.save()
}
