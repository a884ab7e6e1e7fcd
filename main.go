package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Seeds the knowledge index from a CSV of dataset_id,kind,content rows.
// Run once per environment before pointing the engine at a new dataset.
func main() {
	cfg := elasticsearch.Config{
		Addresses: []string{"http://localhost:9200"},
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		log.Fatalf("Error creating Elasticsearch client: %v", err)
	}

	file, err := os.Open("knowledge_fragments.csv")
	if err != nil {
		log.Fatalf("Error opening CSV file: %v", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3

	ctx := context.Background()

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Error reading CSV row: %v", err)
			continue
		}

		// Create document from CSV row
		doc := map[string]interface{}{
			"dataset_id": record[0],
			"kind":       record[1],
			"content":    record[2],
		}

		docJSON, err := json.Marshal(doc)
		if err != nil {
			log.Printf("Error marshaling document: %v", err)
			continue
		}

		docID := uuid.NewString()
		req := esapi.IndexRequest{
			Index:      "knowledge",
			DocumentID: docID,
			Body:       strings.NewReader(string(docJSON)),
			Refresh:    "true",
		}

		res, err := req.Do(ctx, es)
		if err != nil {
			log.Printf("Error indexing document for dataset %s: %v", record[0], err)
			continue
		}
		defer res.Body.Close()

		if res.IsError() {
			log.Printf("Error response from Elasticsearch for dataset %s: %s", record[0], res.String())
		} else {
			fmt.Printf("Indexed knowledge fragment %s for dataset %s\n", docID, record[0])
		}
	}

}
