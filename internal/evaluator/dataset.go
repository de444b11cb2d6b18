package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamaly87/codebase-rag-core/internal/classpath"
	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/models"
)

// datasetMetadata mirrors a dataset directory's metadata.json.
type datasetMetadata struct {
	Name             string            `json:"name"`
	QueryCount       int               `json:"query_count"`
	DifficultyLevels []string          `json:"difficulty_levels"`
	EvaluationOpts   evaluationOptions `json:"evaluation_options"`
}

type evaluationOptions struct {
	JavaSourceRoots   []string `json:"java_source_roots"`
	IgnoreMethodNames bool     `json:"ignore_method_names"`
	CaseSensitive     bool     `json:"case_sensitive"`
}

func (o evaluationOptions) toClasspathOptions() classpath.Options {
	return classpath.Options{
		JavaSourceRoots:   o.JavaSourceRoots,
		IgnoreMethodNames: o.IgnoreMethodNames,
		CaseSensitive:     o.CaseSensitive,
	}
}

// queryRecord mirrors one line of queries.jsonl or one entry of
// questions.json. answer is either a single identifier string or a list.
type queryRecord struct {
	Difficulty string          `json:"difficulty"`
	Question   string          `json:"question"`
	Answer     json.RawMessage `json:"answer"`
}

func (q queryRecord) answers() ([]string, error) {
	var single string
	if err := json.Unmarshal(q.Answer, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(q.Answer, &list); err == nil {
		return list, nil
	}
	return nil, coreerrors.New(coreerrors.InvalidOptions, "evaluator.LoadDataset", "answer field is neither a string nor a list of strings")
}

// LoadDataset reads a dataset directory's metadata.json plus its
// queries.jsonl or questions.json into an EvaluationDataset, and returns
// the normalizer options declared by the dataset's metadata.
func LoadDataset(dir, collection string) (models.EvaluationDataset, classpath.Options, error) {
	metaPath := filepath.Join(dir, "metadata.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return models.EvaluationDataset{}, classpath.Options{}, coreerrors.Wrap(coreerrors.NotFound, "evaluator.LoadDataset", err)
	}
	var meta datasetMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return models.EvaluationDataset{}, classpath.Options{}, coreerrors.Wrap(coreerrors.InvalidOptions, "evaluator.LoadDataset", err)
	}

	records, err := loadQueryRecords(dir)
	if err != nil {
		return models.EvaluationDataset{}, classpath.Options{}, err
	}

	queries := make([]models.EvaluationQuery, 0, len(records))
	for i, rec := range records {
		answers, err := rec.answers()
		if err != nil {
			return models.EvaluationDataset{}, classpath.Options{}, err
		}
		queries = append(queries, models.EvaluationQuery{
			ID:          fmt.Sprintf("q%d", i),
			Query:       rec.Question,
			RelevantIDs: answers,
			Difficulty:  rec.Difficulty,
		})
	}

	dataset := models.EvaluationDataset{
		Name:       meta.Name,
		Collection: collection,
		Queries:    queries,
	}
	return dataset, meta.EvaluationOpts.toClasspathOptions(), nil
}

func loadQueryRecords(dir string) ([]queryRecord, error) {
	jsonlPath := filepath.Join(dir, "queries.jsonl")
	if data, err := os.ReadFile(jsonlPath); err == nil {
		return parseJSONL(data)
	}

	jsonPath := filepath.Join(dir, "questions.json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, coreerrors.New(coreerrors.NotFound, "evaluator.LoadDataset", "no queries.jsonl or questions.json in "+dir)
	}
	var records []queryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, coreerrors.Wrap(coreerrors.InvalidOptions, "evaluator.LoadDataset", err)
	}
	return records, nil
}

func parseJSONL(data []byte) ([]queryRecord, error) {
	var records []queryRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec queryRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, coreerrors.Wrap(coreerrors.InvalidOptions, "evaluator.LoadDataset", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
