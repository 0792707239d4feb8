// Package metrics holds the prometheus collectors for the indexer pipeline.
package metrics

const namespace = "graffio"

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
