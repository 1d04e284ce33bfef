package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"scholarpilot.dev/core/common/llm"
	"scholarpilot.dev/core/internal/domain"
)

// Clusterer partitions the screened corpus into named thematic clusters:
// text-embedding K-means over title+abstract when the configured provider
// exposes embeddings, with the LLM used only to label each cluster from
// its member titles. K follows the fixed rule K = min(ceil(n/2)+1, 5):
// enough granularity for a handful of papers without fragmenting a small
// corpus into singletons.
type Clusterer struct {
	client llm.Client
}

func NewClusterer(client llm.Client) *Clusterer {
	return &Clusterer{client: client}
}

// TargetK returns the cluster count for n papers.
func TargetK(n int) int {
	if n == 0 {
		return 0
	}
	k := int(math.Ceil(float64(n)/2)) + 1
	if k > 5 {
		k = 5
	}
	if k > n {
		k = n
	}
	return k
}

// Cluster assigns papers to TargetK(len(papers)) clusters. The embedding
// K-means path runs when the client also implements llm.Embedder; a
// provider without embeddings (or an embedding failure) falls back to
// LLM-driven assignment, and total failure to a single catch-all cluster
// so downstream phases still have a cluster to hang claims off of.
func (c *Clusterer) Cluster(ctx context.Context, planID string, papers []domain.Paper) ([]domain.Cluster, error) {
	if len(papers) == 0 {
		return nil, nil
	}

	k := TargetK(len(papers))
	if embedder, ok := c.client.(llm.Embedder); ok {
		clusters, err := c.clusterViaEmbeddings(ctx, planID, papers, k, embedder)
		if err == nil {
			return clusters, nil
		}
		slog.WarnContext(ctx, "synthesis: embedding clustering failed, falling back to llm assignment", "error", err)
	}

	clusters, err := c.clusterViaLLM(ctx, planID, papers, k)
	if err != nil {
		return []domain.Cluster{fallbackCluster(planID, papers)}, nil
	}
	return clusters, nil
}

// clusterViaEmbeddings embeds each paper's title+abstract, partitions the
// vectors with K-means, and asks the LLM to name each cluster from its
// member titles only.
func (c *Clusterer) clusterViaEmbeddings(ctx context.Context, planID string, papers []domain.Paper, k int, embedder llm.Embedder) ([]domain.Cluster, error) {
	texts := make([]string, len(papers))
	for i, p := range papers {
		texts[i] = p.Title + "\n" + truncate(p.Abstract, 1000)
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("synthesis: embed papers: %w", err)
	}
	if len(vectors) != len(papers) {
		return nil, fmt.Errorf("synthesis: got %d embeddings for %d papers", len(vectors), len(papers))
	}

	groups := kmeansPartition(vectors, k)
	labels := c.labelClusters(ctx, papers, groups)

	clusters := make([]domain.Cluster, 0, len(groups))
	for gi, members := range groups {
		ids := make([]string, len(members))
		for mi, paperIdx := range members {
			ids[mi] = papers[paperIdx].ID
		}
		clusters = append(clusters, domain.Cluster{
			ID:          uuid.NewString(),
			Name:        labels[gi].Name,
			Description: labels[gi].Description,
			PaperIDs:    ids,
			PlanID:      planID,
		})
	}
	return clusters, nil
}

type clusterLabel struct {
	ClusterIndex int    `json:"cluster_index"`
	Name         string `json:"name"`
	Description  string `json:"description"`
}

type labelResponse struct {
	Clusters []clusterLabel `json:"clusters"`
}

const labelerSystemPrompt = `You name thematic clusters of research papers. For each cluster you are
given only its member paper titles. Give each cluster_index a short name and a one-sentence
description summarizing the shared theme.`

// labelClusters asks the LLM for a name/description per cluster from its
// member titles. On failure (or no chat-capable client) every cluster gets
// a deterministic placeholder label rather than failing the partition.
func (c *Clusterer) labelClusters(ctx context.Context, papers []domain.Paper, groups [][]int) []clusterLabel {
	labels := make([]clusterLabel, len(groups))
	for gi, members := range groups {
		name := fmt.Sprintf("Theme %d", gi+1)
		desc := ""
		if len(members) > 0 {
			desc = fmt.Sprintf("Papers related to %q.", papers[members[0]].Title)
		}
		labels[gi] = clusterLabel{ClusterIndex: gi, Name: name, Description: desc}
	}
	if c.client == nil {
		return labels
	}

	var b strings.Builder
	for gi, members := range groups {
		fmt.Fprintf(&b, "Cluster %d titles:\n", gi)
		for _, paperIdx := range members {
			fmt.Fprintf(&b, "- %s\n", papers[paperIdx].Title)
		}
	}

	var resp labelResponse
	_, err := c.client.Chat(ctx, llm.Request{
		SystemPrompt: labelerSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "cluster_labels",
		Schema:       llm.GenerateSchema[labelResponse](),
		Temperature:  llm.Temp(0.2),
	}, &resp)
	if err != nil {
		slog.WarnContext(ctx, "synthesis: cluster labeling failed, using placeholder names", "error", err)
		return labels
	}

	for _, label := range resp.Clusters {
		if label.ClusterIndex >= 0 && label.ClusterIndex < len(labels) && label.Name != "" {
			labels[label.ClusterIndex].Name = label.Name
			labels[label.ClusterIndex].Description = label.Description
		}
	}
	return labels
}

type clusterAssignment struct {
	ClusterIndex int    `json:"cluster_index"`
	PaperID      string `json:"paper_id"`
}

type clusterResponse struct {
	Clusters    []clusterLabel      `json:"clusters"`
	Assignments []clusterAssignment `json:"assignments"`
}

const clustererSystemPrompt = `You group research papers into exactly K thematic clusters, where K is
given. Every paper must be assigned to exactly one cluster_index in [0, K). Give each cluster a
short name and one-sentence description summarizing its shared theme.`

// clusterViaLLM is the no-embedder fallback: one call does both assignment
// and labeling over titles+abstracts.
func (c *Clusterer) clusterViaLLM(ctx context.Context, planID string, papers []domain.Paper, k int) ([]domain.Cluster, error) {
	if c.client == nil {
		return nil, fmt.Errorf("synthesis: no LLM client configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "K = %d\n\nPapers:\n", k)
	for _, p := range papers {
		fmt.Fprintf(&b, "- paper_id=%s title=%q abstract=%q\n", p.ID, p.Title, truncate(p.Abstract, 300))
	}

	var resp clusterResponse
	_, err := c.client.Chat(ctx, llm.Request{
		SystemPrompt: clustererSystemPrompt,
		UserPrompt:   b.String(),
		SchemaName:   "cluster_response",
		Schema:       llm.GenerateSchema[clusterResponse](),
		Temperature:  llm.Temp(0.2),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("synthesis: cluster papers: %w", err)
	}

	byIndex := make(map[int]*domain.Cluster, len(resp.Clusters))
	var ordered []*domain.Cluster
	for _, label := range resp.Clusters {
		cl := &domain.Cluster{ID: uuid.NewString(), Name: label.Name, Description: label.Description, PlanID: planID}
		byIndex[label.ClusterIndex] = cl
		ordered = append(ordered, cl)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("synthesis: cluster response had no clusters")
	}

	assigned := make(map[string]bool, len(papers))
	for _, a := range resp.Assignments {
		cl, ok := byIndex[a.ClusterIndex]
		if !ok {
			continue
		}
		cl.PaperIDs = append(cl.PaperIDs, a.PaperID)
		assigned[a.PaperID] = true
	}

	// Any paper the LLM left unassigned joins the first cluster rather
	// than vanishing from the taxonomy.
	for _, p := range papers {
		if !assigned[p.ID] {
			ordered[0].PaperIDs = append(ordered[0].PaperIDs, p.ID)
		}
	}

	clusters := make([]domain.Cluster, len(ordered))
	for i, cl := range ordered {
		clusters[i] = *cl
	}
	return clusters, nil
}

func fallbackCluster(planID string, papers []domain.Paper) domain.Cluster {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
	}
	return domain.Cluster{
		ID:          uuid.NewString(),
		Name:        "All Papers",
		Description: "Clustering unavailable; all screened papers grouped together.",
		PaperIDs:    ids,
		PlanID:      planID,
	}
}
