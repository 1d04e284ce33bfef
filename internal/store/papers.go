package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"scholarpilot.dev/core/common/id"
	"scholarpilot.dev/core/internal/domain"
)

// UpsertPaper persists paper, assigning a snowflake ID when paper.ID is
// empty. Identity is the (arxiv_id, doi) pair carried on the record, so
// re-running the persistence phase against an already-saved paper updates
// it in place instead of duplicating it.
func (s *Store) UpsertPaper(ctx context.Context, paper domain.Paper) (domain.Paper, error) {
	if paper.ID == "" {
		paper.ID = strconv.FormatInt(id.New(), 10)
	}

	pageMap, err := json.Marshal(paper.PageMap)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("store: marshal page map: %w", err)
	}

	const query = `
		INSERT INTO papers (
			id, arxiv_id, doi, title, abstract, authors, published, source,
			abs_url, pdf_url, status, relevance_score, summary, cluster_id,
			plan_id, step_id, full_text, page_map, metadata_hash, pdf_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			relevance_score = EXCLUDED.relevance_score,
			summary = EXCLUDED.summary,
			cluster_id = EXCLUDED.cluster_id,
			full_text = EXCLUDED.full_text,
			page_map = EXCLUDED.page_map,
			metadata_hash = EXCLUDED.metadata_hash,
			pdf_hash = EXCLUDED.pdf_hash
	`

	_, err = s.pool.Exec(ctx, query,
		paper.ID, nullableString(paper.ArxivID), nullableString(paper.DOI), paper.Title,
		paper.Abstract, paper.Authors, paper.Published, paper.Source, paper.AbsURL,
		paper.PDFURL, string(paper.Status), paper.RelevanceScore, paper.Summary,
		nullableString(paper.ClusterID), nullableString(paper.PlanID), paper.StepID,
		paper.FullText, pageMap, nullableString(paper.MetadataHash), nullableString(paper.PDFHash),
	)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("store: upsert paper: %w", err)
	}
	return paper, nil
}

// FindPaperByIdentity looks a paper up by its strongest identity key
// (arXiv id, then DOI), mirroring domain.Paper.Identity's precedence.
func (s *Store) FindPaperByIdentity(ctx context.Context, kind, value string) (domain.Paper, error) {
	var column string
	switch kind {
	case "arxiv":
		column = "arxiv_id"
	case "doi":
		column = "doi"
	default:
		return domain.Paper{}, fmt.Errorf("store: unknown identity kind %q", kind)
	}

	query := fmt.Sprintf(`
		SELECT id, arxiv_id, doi, title, abstract, authors, published, source,
			abs_url, pdf_url, status, relevance_score, summary, cluster_id,
			plan_id, step_id, full_text, page_map, metadata_hash, pdf_hash
		FROM papers WHERE %s = $1
	`, column)

	row := s.pool.QueryRow(ctx, query, value)
	paper, err := scanPaper(row)
	if err != nil {
		if noRows(err) {
			return domain.Paper{}, ErrNotFound
		}
		return domain.Paper{}, fmt.Errorf("store: find paper by %s: %w", column, err)
	}
	return paper, nil
}

// PapersByPlan returns every paper persisted against planID, in insertion
// order.
func (s *Store) PapersByPlan(ctx context.Context, planID string) ([]domain.Paper, error) {
	const query = `
		SELECT id, arxiv_id, doi, title, abstract, authors, published, source,
			abs_url, pdf_url, status, relevance_score, summary, cluster_id,
			plan_id, step_id, full_text, page_map, metadata_hash, pdf_hash
		FROM papers WHERE plan_id = $1 ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("store: papers by plan: %w", err)
	}
	defer rows.Close()

	var papers []domain.Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan paper: %w", err)
		}
		papers = append(papers, paper)
	}
	return papers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (domain.Paper, error) {
	var p domain.Paper
	var arxivID, doi, clusterID, planID, metadataHash, pdfHash *string
	var status string
	var pageMap []byte

	err := row.Scan(
		&p.ID, &arxivID, &doi, &p.Title, &p.Abstract, &p.Authors, &p.Published,
		&p.Source, &p.AbsURL, &p.PDFURL, &status, &p.RelevanceScore, &p.Summary,
		&clusterID, &planID, &p.StepID, &p.FullText, &pageMap, &metadataHash, &pdfHash,
	)
	if err != nil {
		return domain.Paper{}, err
	}

	p.Status = domain.PaperStatus(status)
	p.ArxivID = deref(arxivID)
	p.DOI = deref(doi)
	p.ClusterID = deref(clusterID)
	p.PlanID = deref(planID)
	p.MetadataHash = deref(metadataHash)
	p.PDFHash = deref(pdfHash)

	if len(pageMap) > 0 {
		if err := json.Unmarshal(pageMap, &p.PageMap); err != nil {
			return domain.Paper{}, fmt.Errorf("unmarshal page map: %w", err)
		}
	}
	return p, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
