package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/neo4jdb"
)

// EntityLookup reads entities referenced by retrieved chunks. Traversal is
// bounded at two hops; failures degrade to an empty list.
type EntityLookup interface {
	RelatedToChunks(ctx context.Context, chunkIDs []string) []types.RelatedEntity
	ByName(ctx context.Context, name string) []types.RelatedEntity
}

type entityLookup struct {
	log *logger.Logger
	db  *neo4jdb.Client
}

func NewEntityLookup(log *logger.Logger, db *neo4jdb.Client) (EntityLookup, error) {
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &entityLookup{log: log.With("service", "EntityLookup"), db: db}, nil
}

const relatedToChunksCypher = `
UNWIND $chunk_ids AS cid
MATCH (c:Chunk {id: cid})-[:MENTIONS]->(e1:Entity)
OPTIONAL MATCH (e1)-[r:REFERENCES|APPLIES_TO|REQUIRES|DEFINES|PART_OF]-(e2:Entity)
RETURN DISTINCT
  e1.id AS id1, e1.type AS type1, e1.name AS name1, e1.aliases AS aliases1,
  e2.id AS id2, e2.type AS type2, e2.name AS name2, e2.aliases AS aliases2,
  type(r) AS rel
LIMIT 50
`

func (l *entityLookup) RelatedToChunks(ctx context.Context, chunkIDs []string) []types.RelatedEntity {
	if l.db == nil || l.db.Driver == nil || len(chunkIDs) == 0 {
		return nil
	}
	session := l.db.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: l.db.Database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		res, err := tx.Run(ctx, relatedToChunksCypher, map[string]any{"chunk_ids": chunkIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		l.log.Warn("entity lookup failed, continuing without graph context", "error", err.Error())
		return nil
	}

	seen := map[string]bool{}
	var out []types.RelatedEntity
	for _, rec := range records {
		if e, ok := entityFromRecord(rec, "1"); ok && !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, types.RelatedEntity{Entity: e, Relation: "MENTIONS", Distance: 1})
		}
		rel, _ := rec.Get("rel")
		relName, _ := rel.(string)
		if e, ok := entityFromRecord(rec, "2"); ok && !seen[e.ID] && relName != "" {
			seen[e.ID] = true
			out = append(out, types.RelatedEntity{Entity: e, Relation: relName, Distance: 2})
		}
	}
	return out
}

const byNameCypher = `
MATCH (e1:Entity)
WHERE toLower(e1.name) = toLower($name) OR $name IN [a IN coalesce(e1.aliases, []) | toLower(a)]
OPTIONAL MATCH (e1)-[r:REFERENCES|APPLIES_TO|REQUIRES|DEFINES|PART_OF]-(e2:Entity)
RETURN DISTINCT
  e1.id AS id1, e1.type AS type1, e1.name AS name1, e1.aliases AS aliases1,
  e2.id AS id2, e2.type AS type2, e2.name AS name2, e2.aliases AS aliases2,
  type(r) AS rel
LIMIT 25
`

func (l *entityLookup) ByName(ctx context.Context, name string) []types.RelatedEntity {
	name = strings.TrimSpace(strings.ToLower(name))
	if l.db == nil || l.db.Driver == nil || name == "" {
		return nil
	}
	session := l.db.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: l.db.Database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		res, err := tx.Run(ctx, byNameCypher, map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		l.log.Warn("entity lookup by name failed", "error", err.Error())
		return nil
	}

	seen := map[string]bool{}
	var out []types.RelatedEntity
	for _, rec := range records {
		if e, ok := entityFromRecord(rec, "1"); ok && !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, types.RelatedEntity{Entity: e, Relation: "", Distance: 0})
		}
		rel, _ := rec.Get("rel")
		relName, _ := rel.(string)
		if e, ok := entityFromRecord(rec, "2"); ok && !seen[e.ID] && relName != "" {
			seen[e.ID] = true
			out = append(out, types.RelatedEntity{Entity: e, Relation: relName, Distance: 1})
		}
	}
	return out
}

func entityFromRecord(rec *neo4j.Record, suffix string) (types.Entity, bool) {
	idVal, _ := rec.Get("id" + suffix)
	id, _ := idVal.(string)
	if id == "" {
		return types.Entity{}, false
	}
	typeVal, _ := rec.Get("type" + suffix)
	nameVal, _ := rec.Get("name" + suffix)
	aliasVal, _ := rec.Get("aliases" + suffix)

	e := types.Entity{ID: id}
	e.Type, _ = typeVal.(string)
	e.Name, _ = nameVal.(string)
	if raw, ok := aliasVal.([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				e.Aliases = append(e.Aliases, s)
			}
		}
	}
	return e, true
}
