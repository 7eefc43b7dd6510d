// Package outline keeps the section hierarchy of each collection in Neo4j:
// (:Section)-[:IN]->(:Collection) and (:Section)-[:PART_OF]->(:Section) for
// nested labels such as 11.1.2 under 11.1.
package outline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Node is one section in a collection outline.
type Node struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Title  string `json:"title"`
	Parent string `json:"parent,omitempty"`
}

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// writer runs statements inside one write transaction.
type writer interface {
	Exec(ctx context.Context, cypher string, params map[string]any) error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	ExecuteWrite(ctx context.Context, work func(w writer) error) error
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(w writer) error) error {
	_, err := a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txWriter{tx: tx})
	})
	return err
}

type txWriter struct {
	tx neo4j.ManagedTransaction
}

// Exec runs cypher and consumes the result so server-side errors surface
// before the transaction commits.
func (w txWriter) Exec(ctx context.Context, cypher string, params map[string]any) error {
	res, err := w.tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Store reads and writes collection outlines.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// New creates a Store over an open driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// Connect opens a driver for url and verifies connectivity. An empty user
// connects without authentication.
func Connect(ctx context.Context, url, user, pass string) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("outline: connect %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("outline: verify %s: %w", url, err)
	}
	return New(driver), nil
}

// Close closes the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

const saveSectionsCypher = `MERGE (c:Collection {name: $collection})
WITH c
UNWIND $sections AS s
MERGE (n:Section {collection: $collection, id: s.id})
SET n.label = s.label, n.title = s.title, n.parent = s.parent
MERGE (n)-[:IN]->(c)`

const linkParentsCypher = `MATCH (n:Section {collection: $collection})
WHERE n.parent <> ''
MATCH (p:Section {collection: $collection, label: n.parent})
MERGE (n)-[:PART_OF]->(p)`

// SaveOutline merges sections into the collection's outline in one write
// transaction. Re-saving the same sections is a no-op.
func (s *Store) SaveOutline(ctx context.Context, collection string, sections []domain.Section) error {
	if len(sections) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(sections))
	for i, sec := range sections {
		label := sec.Label
		if label == "" {
			label = domain.LabelFromID(sec.ID)
		}
		rows[i] = map[string]any{
			"id":     sec.ID,
			"label":  label,
			"title":  sec.Title,
			"parent": domain.ParentLabel(label),
		}
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	err := sess.ExecuteWrite(ctx, func(w writer) error {
		if err := w.Exec(ctx, saveSectionsCypher, map[string]any{
			"collection": collection,
			"sections":   rows,
		}); err != nil {
			return fmt.Errorf("save sections: %w", err)
		}
		if err := w.Exec(ctx, linkParentsCypher, map[string]any{"collection": collection}); err != nil {
			return fmt.Errorf("link parents: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outline: save %s: %w", collection, err)
	}
	return nil
}

const outlineCypher = `MATCH (n:Section)-[:IN]->(:Collection {name: $collection})
RETURN n.id AS id, n.label AS label, n.title AS title, n.parent AS parent`

// Outline returns the sections of collection in label order. A collection
// with no stored sections yields domain.ErrCollectionNotFound.
func (s *Store) Outline(ctx context.Context, collection string) ([]Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, outlineCypher, map[string]any{"collection": collection})
	if err != nil {
		return nil, fmt.Errorf("outline: query %s: %w", collection, err)
	}
	var nodes []Node
	for res.Next(ctx) {
		rec := res.Record()
		nodes = append(nodes, Node{
			ID:     stringField(rec, "id"),
			Label:  stringField(rec, "label"),
			Title:  stringField(rec, "title"),
			Parent: stringField(rec, "parent"),
		})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("outline: read %s: %w", collection, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("outline: %s: %w", collection, domain.ErrCollectionNotFound)
	}
	sort.SliceStable(nodes, func(i, j int) bool { return labelLess(nodes[i].Label, nodes[j].Label) })
	return nodes, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// labelLess orders labels numerically per group, so 2.10 follows 2.9 and
// 2 precedes 2.1.
func labelLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		x, errX := strconv.Atoi(as[i])
		y, errY := strconv.Atoi(bs[i])
		if errX != nil || errY != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if x != y {
			return x < y
		}
	}
	return len(as) < len(bs)
}
