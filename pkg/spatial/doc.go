// Package spatial implements the federated embedding index: a bounded
// LRU cache of node embeddings plus, per project, an ordering of cached
// entries by locality key.
//
// The locality key is a hex-encoded Z-order position derived from a
// low-dimensional projection of the embedding. Nearby keys imply nearby
// embeddings with high (not perfect) probability, so a cheap ordered
// range scan around the query's key narrows the candidate set before
// exact cosine scoring. Search cost scales with the candidate count,
// not the corpus size.
//
// The index is a recall-oriented prefilter, not an exact nearest
// neighbor structure. If the first range scan yields too few
// candidates the scan widens once and then returns whatever it found.
//
// Usage:
//
//	idx := spatial.New(engine, spatial.Config{Dimensions: 512})
//	idx.AddProject("proj-a", nodes)
//
//	results, err := idx.SearchAcrossProjects(queryVec, spatial.SearchOptions{
//		Projects: []storage.ProjectID{"proj-a", "proj-b"},
//		TopK:     20,
//	})
package spatial
