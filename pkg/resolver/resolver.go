// Package resolver builds the run context from a trigger event by loading
// the referenced domain entity through the entity store collaborator.
package resolver

import (
	"context"
	"log/slog"

	"github.com/clubflow/clubflow/pkg/models"
)

// EntityType enumerates the domain records a trigger event can reference.
type EntityType string

const (
	EntityLead          EntityType = "lead"
	EntityContract      EntityType = "contract"
	EntityInvoice       EntityType = "invoice"
	EntityBooking       EntityType = "booking"
	EntityClub          EntityType = "club"
	EntityTask          EntityType = "task"
	EntityCalendarEvent EntityType = "calendar_event"
	EntityNone          EntityType = ""
)

// EntityRef identifies one domain record. The zero value means the event
// references nothing (e.g. a scheduler-synthesized event).
type EntityRef struct {
	Type EntityType
	ID   string
}

// IsZero reports whether the ref points at nothing.
func (r EntityRef) IsZero() bool {
	return r.Type == EntityNone || r.ID == ""
}

// RefFromTriggerData extracts the entity reference from an event payload.
func RefFromTriggerData(triggerData map[string]any) EntityRef {
	ref := EntityRef{}

	if t, ok := triggerData["entity_type"].(string); ok {
		ref.Type = EntityType(t)
	}

	if id, ok := triggerData["entity_id"].(string); ok {
		ref.ID = id
	}

	if ref.Type == "scheduled" || ref.Type == "none" {
		ref.Type = EntityNone
	}

	return ref
}

// EntityStore loads domain records for context resolution. Implementations
// must return a nil record for unknown ids rather than an error.
type EntityStore interface {
	Load(ctx context.Context, entityType EntityType, id string) (map[string]any, error)
}

// projections lists, per entity type, the record fields exposed to
// templates and conditions. Anything else on the record stays hidden.
var projections = map[EntityType][]string{
	EntityLead:          {"id", "nome", "cognome", "email", "telefono", "stage", "valore", "fonte", "assegnato_a"},
	EntityContract:      {"id", "lead_id", "club_id", "tipo", "stato", "importo", "data_inizio", "data_fine"},
	EntityInvoice:       {"id", "contract_id", "numero", "importo", "stato", "scadenza"},
	EntityBooking:       {"id", "club_id", "lead_id", "risorsa", "inizio", "fine", "stato"},
	EntityClub:          {"id", "nome", "citta", "email", "telefono"},
	EntityTask:          {"id", "titolo", "stato", "assegnato_a", "scadenza"},
	EntityCalendarEvent: {"id", "titolo", "inizio", "fine", "luogo"},
}

// Resolver loads trigger-referenced entities into a context.
type Resolver struct {
	store  EntityStore
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the given entity store.
func NewResolver(store EntityStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("module", "resolver"),
	}
}

// Resolve builds the run context for a trigger event. The referenced entity
// is projected into a namespace named after its type; an unknown or missing
// entity yields an empty namespace rather than a failure. Every other key
// of the event is copied verbatim into the root namespace, without
// overwriting entity namespaces.
func (r *Resolver) Resolve(ctx context.Context, triggerData map[string]any) *models.Context {
	rc := models.NewContext()
	ref := RefFromTriggerData(triggerData)

	if !ref.IsZero() {
		rc.SetNamespace(string(ref.Type), r.loadProjection(ctx, ref))
	}

	for key, value := range triggerData {
		if key == "entity_type" || key == "entity_id" {
			continue
		}

		if rc.HasNamespace(key) {
			continue
		}

		rc.Set(key, value)
	}

	return rc
}

func (r *Resolver) loadProjection(ctx context.Context, ref EntityRef) map[string]any {
	fields, known := projections[ref.Type]
	if !known {
		r.logger.WarnContext(ctx, "Unknown entity type in trigger data", "entity_type", ref.Type)

		return map[string]any{}
	}

	record, err := r.store.Load(ctx, ref.Type, ref.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Entity load failed, continuing with empty namespace",
			"entity_type", ref.Type, "entity_id", ref.ID, "error", err)

		return map[string]any{}
	}

	if record == nil {
		return map[string]any{}
	}

	projected := make(map[string]any, len(fields))

	for _, field := range fields {
		if value, ok := record[field]; ok {
			projected[field] = value
		}
	}

	return projected
}
