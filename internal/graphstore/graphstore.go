// Package graphstore persists the synthesis phase's cluster/claim/evidence
// graph in ArangoDB: clusters group papers, claims cite evidence spans, and
// spans anchor back to their source paper (spec.md §4.6, §3 Cluster/Claim/
// EvidenceSpan/TaxonomyMatrix). Papers themselves are persisted in Postgres
// by internal/store; the "papers" node collection here holds only the
// denormalized id+title a traversal needs to render a result.
package graphstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"

	"scholarpilot.dev/core/internal/domain"
)

const graphName = "research_graph"

var nodeCollections = []string{"clusters", "claims", "spans", "papers"}

var edgeDefs = []arangodb.EdgeDefinition{
	{Collection: "cluster_contains_paper", From: []string{"clusters"}, To: []string{"papers"}},
	{Collection: "claim_in_cluster", From: []string{"claims"}, To: []string{"clusters"}},
	{Collection: "claim_cites_span", From: []string{"claims"}, To: []string{"spans"}},
	{Collection: "span_of_paper", From: []string{"spans"}, To: []string{"papers"}},
}

// Config holds ArangoDB connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("graphstore: url is required")
	}
	if c.Database == "" {
		return fmt.Errorf("graphstore: database is required")
	}
	return nil
}

// Store is the graph persistence surface the synthesis and pipeline
// packages depend on.
type Store interface {
	EnsureSchema(ctx context.Context) error

	UpsertCluster(ctx context.Context, c domain.Cluster) error
	UpsertClaim(ctx context.Context, claim domain.Claim) error
	UpsertSpan(ctx context.Context, span domain.EvidenceSpan) error
	UpsertPaperNode(ctx context.Context, paperID, title string) error

	ClaimsByCluster(ctx context.Context, clusterID string) ([]domain.Claim, error)
	SpansByClaim(ctx context.Context, claim domain.Claim) ([]domain.EvidenceSpan, error)
	PapersByCluster(ctx context.Context, clusterID string) ([]string, error)

	Close() error
}

type store struct {
	conn   connection.Connection
	client arangodb.Client
	db     arangodb.Database
	cfg    Config
}

// New dials ArangoDB and resolves cfg.Database; call EnsureSchema before
// any read/write.
func New(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("graphstore: auth: %w", err)
	}

	client := arangodb.NewClient(conn)

	exists, err := client.DatabaseExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("graphstore: check database: %w", err)
	}
	if !exists {
		if _, err := client.CreateDatabase(ctx, cfg.Database, nil); err != nil {
			return nil, fmt.Errorf("graphstore: create database: %w", err)
		}
	}

	db, err := client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("graphstore: get database: %w", err)
	}

	return &store{conn: conn, client: client, db: db, cfg: cfg}, nil
}

func (s *store) Close() error { return nil }

// EnsureSchema creates the node/edge collections and the research_graph
// graph definition if they don't already exist.
func (s *store) EnsureSchema(ctx context.Context) error {
	for _, name := range nodeCollections {
		if err := s.ensureCollection(ctx, name, false); err != nil {
			return err
		}
	}
	for _, def := range edgeDefs {
		if err := s.ensureCollection(ctx, def.Collection, true); err != nil {
			return err
		}
	}

	exists, err := s.db.GraphExists(ctx, graphName)
	if err != nil {
		return fmt.Errorf("graphstore: check graph: %w", err)
	}
	if exists {
		return nil
	}

	graphDef := &arangodb.GraphDefinition{Name: graphName, EdgeDefinitions: edgeDefs}
	if _, err := s.db.CreateGraph(ctx, graphName, graphDef, nil); err != nil {
		return fmt.Errorf("graphstore: create graph: %w", err)
	}
	slog.InfoContext(ctx, "graphstore: graph created", "graph", graphName)
	return nil
}

func (s *store) ensureCollection(ctx context.Context, name string, isEdge bool) error {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("graphstore: check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	colType := arangodb.CollectionTypeDocument
	if isEdge {
		colType = arangodb.CollectionTypeEdge
	}
	props := &arangodb.CreateCollectionPropertiesV2{Type: &colType}
	if _, err := s.db.CreateCollectionV2(ctx, name, props); err != nil {
		return fmt.Errorf("graphstore: create collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "graphstore: collection created", "collection", name, "is_edge", isEdge)
	return nil
}

// UpsertPaperNode inserts the denormalized paper vertex a cluster/span edge
// anchors to; a vertex already stored under the same key is left as it is
// (see overwriteDocument).
func (s *store) UpsertPaperNode(ctx context.Context, paperID, title string) error {
	col, err := s.db.GetCollection(ctx, "papers", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get papers collection: %w", err)
	}
	doc := map[string]any{"_key": docKey(paperID), "paper_id": paperID, "title": title}
	return overwriteDocument(ctx, col, doc)
}

// UpsertCluster writes the cluster vertex and its cluster_contains_paper
// edges (one per member paper).
func (s *store) UpsertCluster(ctx context.Context, c domain.Cluster) error {
	col, err := s.db.GetCollection(ctx, "clusters", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get clusters collection: %w", err)
	}
	doc := map[string]any{
		"_key":        docKey(c.ID),
		"cluster_id":  c.ID,
		"name":        c.Name,
		"description": c.Description,
		"plan_id":     c.PlanID,
	}
	if err := overwriteDocument(ctx, col, doc); err != nil {
		return err
	}

	edgeCol, err := s.db.GetCollection(ctx, "cluster_contains_paper", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get cluster_contains_paper collection: %w", err)
	}
	for _, paperID := range c.PaperIDs {
		edge := map[string]any{
			"_key":  edgeKey(c.ID, paperID),
			"_from": fmt.Sprintf("clusters/%s", docKey(c.ID)),
			"_to":   fmt.Sprintf("papers/%s", docKey(paperID)),
		}
		if err := overwriteDocument(ctx, edgeCol, edge); err != nil {
			return err
		}
	}
	return nil
}

// UpsertClaim writes the claim vertex plus its claim_in_cluster edge and
// one claim_cites_span edge per cited span.
func (s *store) UpsertClaim(ctx context.Context, claim domain.Claim) error {
	col, err := s.db.GetCollection(ctx, "claims", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get claims collection: %w", err)
	}
	doc := map[string]any{
		"_key":       docKey(claim.ClaimID),
		"claim_id":   claim.ClaimID,
		"text":       claim.Text,
		"theme_id":   claim.ThemeID,
		"salience":   claim.Salience,
		"uncertain":  claim.UncertaintyFlag,
	}
	if err := overwriteDocument(ctx, col, doc); err != nil {
		return err
	}

	if claim.ThemeID != "" {
		edgeCol, err := s.db.GetCollection(ctx, "claim_in_cluster", nil)
		if err != nil {
			return fmt.Errorf("graphstore: get claim_in_cluster collection: %w", err)
		}
		edge := map[string]any{
			"_key":  edgeKey(claim.ClaimID, claim.ThemeID),
			"_from": fmt.Sprintf("claims/%s", docKey(claim.ClaimID)),
			"_to":   fmt.Sprintf("clusters/%s", docKey(claim.ThemeID)),
		}
		if err := overwriteDocument(ctx, edgeCol, edge); err != nil {
			return err
		}
	}

	edgeCol, err := s.db.GetCollection(ctx, "claim_cites_span", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get claim_cites_span collection: %w", err)
	}
	for _, spanID := range claim.EvidenceSpanIDs {
		edge := map[string]any{
			"_key":  edgeKey(claim.ClaimID, spanID),
			"_from": fmt.Sprintf("claims/%s", docKey(claim.ClaimID)),
			"_to":   fmt.Sprintf("spans/%s", docKey(spanID)),
		}
		if err := overwriteDocument(ctx, edgeCol, edge); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSpan writes the span vertex and its span_of_paper edge.
func (s *store) UpsertSpan(ctx context.Context, span domain.EvidenceSpan) error {
	col, err := s.db.GetCollection(ctx, "spans", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get spans collection: %w", err)
	}
	doc := map[string]any{
		"_key":       docKey(span.SpanID),
		"span_id":    span.SpanID,
		"paper_id":   span.PaperID,
		"field":      span.Field,
		"snippet":    span.Snippet,
		"confidence": span.Confidence,
		"source_url": span.SourceURL,
	}
	if err := overwriteDocument(ctx, col, doc); err != nil {
		return err
	}

	edgeCol, err := s.db.GetCollection(ctx, "span_of_paper", nil)
	if err != nil {
		return fmt.Errorf("graphstore: get span_of_paper collection: %w", err)
	}
	edge := map[string]any{
		"_key":  edgeKey(span.SpanID, span.PaperID),
		"_from": fmt.Sprintf("spans/%s", docKey(span.SpanID)),
		"_to":   fmt.Sprintf("papers/%s", docKey(span.PaperID)),
	}
	return overwriteDocument(ctx, edgeCol, edge)
}

// ClaimsByCluster traverses claim_in_cluster edges into clusterID.
func (s *store) ClaimsByCluster(ctx context.Context, clusterID string) ([]domain.Claim, error) {
	query := `
		FOR v IN 1..1 INBOUND @start GRAPH @graph
			OPTIONS { edgeCollections: ["claim_in_cluster"] }
			RETURN v
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"start": fmt.Sprintf("clusters/%s", docKey(clusterID)),
			"graph": graphName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: claims by cluster: %w", err)
	}
	defer cursor.Close()

	var claims []domain.Claim
	for cursor.HasMore() {
		var doc claimDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("graphstore: read claim: %w", err)
		}
		claims = append(claims, doc.toClaim())
	}
	return claims, nil
}

// SpansByClaim traverses claim_cites_span edges out of claim.
func (s *store) SpansByClaim(ctx context.Context, claim domain.Claim) ([]domain.EvidenceSpan, error) {
	query := `
		FOR v IN 1..1 OUTBOUND @start GRAPH @graph
			OPTIONS { edgeCollections: ["claim_cites_span"] }
			RETURN v
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"start": fmt.Sprintf("claims/%s", docKey(claim.ClaimID)),
			"graph": graphName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: spans by claim: %w", err)
	}
	defer cursor.Close()

	var spans []domain.EvidenceSpan
	for cursor.HasMore() {
		var doc spanDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("graphstore: read span: %w", err)
		}
		spans = append(spans, doc.toSpan())
	}
	return spans, nil
}

// PapersByCluster traverses cluster_contains_paper edges out of clusterID,
// returning member paper ids.
func (s *store) PapersByCluster(ctx context.Context, clusterID string) ([]string, error) {
	query := `
		FOR v IN 1..1 OUTBOUND @start GRAPH @graph
			OPTIONS { edgeCollections: ["cluster_contains_paper"] }
			RETURN { paper_id: v.paper_id }
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"start": fmt.Sprintf("clusters/%s", docKey(clusterID)),
			"graph": graphName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: papers by cluster: %w", err)
	}
	defer cursor.Close()

	var ids []string
	for cursor.HasMore() {
		var doc struct {
			PaperID string `json:"paper_id"`
		}
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("graphstore: read paper id: %w", err)
		}
		ids = append(ids, doc.PaperID)
	}
	return ids, nil
}

type claimDoc struct {
	ClaimID   string  `json:"claim_id"`
	Text      string  `json:"text"`
	ThemeID   string  `json:"theme_id"`
	Salience  float64 `json:"salience"`
	Uncertain bool    `json:"uncertain"`
}

func (d claimDoc) toClaim() domain.Claim {
	return domain.Claim{
		ClaimID:         d.ClaimID,
		Text:            d.Text,
		ThemeID:         d.ThemeID,
		Salience:        d.Salience,
		UncertaintyFlag: d.Uncertain,
	}
}

type spanDoc struct {
	SpanID     string  `json:"span_id"`
	PaperID    string  `json:"paper_id"`
	Field      string  `json:"field"`
	Snippet    string  `json:"snippet"`
	Confidence float64 `json:"confidence"`
	SourceURL  string  `json:"source_url"`
}

func (d spanDoc) toSpan() domain.EvidenceSpan {
	return domain.EvidenceSpan{
		SpanID:     d.SpanID,
		PaperID:    d.PaperID,
		Field:      domain.EvidenceFieldTag(d.Field),
		Snippet:    d.Snippet,
		Confidence: d.Confidence,
		SourceURL:  d.SourceURL,
	}
}

// overwriteDocument inserts doc via the batch CreateDocuments call (the
// only write path the go-driver/v2 Collection offers cleanly); a
// duplicate-_key response is expected on phase re-runs and is not an
// error — the existing vertex/edge is left untouched.
func overwriteDocument(ctx context.Context, col arangodb.Collection, doc map[string]any) error {
	reader, err := col.CreateDocuments(ctx, []map[string]any{doc})
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	for {
		if _, readErr := reader.Read(); readErr != nil {
			break
		}
	}
	return nil
}

// docKey derives a stable Arango _key from a domain id, since ids may
// contain characters (e.g. "#") the key charset forbids.
func docKey(id string) string {
	hash := md5.Sum([]byte(id))
	return hex.EncodeToString(hash[:])[:20]
}

// edgeKey derives a stable, deterministic _key for an edge between two
// domain ids so re-ingesting the same edge is a no-op.
func edgeKey(from, to string) string {
	combined := from + "->" + to
	hash := md5.Sum([]byte(combined))
	return hex.EncodeToString(hash[:])[:20]
}
