// Package estore executes document mutations against Elasticsearch.
//
// The wide work-order document lives in the configured primary index; the
// operating log and the customer special config live in two fixed side
// indexes. Nested-array fields of the wide document are mutated through
// Painless scripts so that the merge happens atomically under the store's
// per-document lock; the client never patches an array it read over the
// network. Read-modify-write callers go through an optimistic
// sequence-number check with bounded exponential retry (see retry.go).
package estore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	elastic "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Fixed names of the two independently projected indexes. The primary
// index name comes from configuration.
const (
	SideIndexOperating  = "operating"
	SideIndexCustConfig = "custspecialconfig"
)

// DefaultTimeout bounds every single store call.
const DefaultTimeout = 30 * time.Second

// ErrNotFound is returned when the target document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrConflict is returned when an optimistic write lost against a
// concurrent mutation of the same document.
var ErrConflict = errors.New("version conflict")

// Metrics receives the store's instrument callbacks. Satisfied by
// telemetry.Pipeline; nil disables counting.
type Metrics interface {
	// StoreMutation counts one successful document mutation of the
	// given kind.
	StoreMutation(ctx context.Context, kind string)
	// ConflictRetry counts one optimistic write lost to a version
	// conflict before being retried.
	ConflictRetry(ctx context.Context)
}

// Config carries the connection settings for the document store.
type Config struct {
	Addr     string // base URL, e.g. http://es1:9200
	Username string // empty disables basic auth
	Password string
	Index    string        // primary wide-document index
	Timeout  time.Duration // per-call timeout; DefaultTimeout when zero
	Metrics  Metrics       // optional instrument sink
}

// Store is the production executor for document mutations.
type Store struct {
	client  *elastic.Client
	index   string
	timeout time.Duration
	metrics Metrics
}

// New connects to the store and verifies reachability. Connection
// failures are returned to the caller; the process treats them as fatal
// at startup.
func New(cfg Config) (*Store, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.Addr),
		elastic.SetSniff(false),
	}
	if cfg.Username != "" || cfg.Password != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}
	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to document store at %s", cfg.Addr)
	}
	return &Store{
		client:  client,
		index:   cfg.Index,
		timeout: timeoutOrDefault(cfg.Timeout),
		metrics: cfg.Metrics,
	}, nil
}

// Close releases the client's background resources.
func (s *Store) Close() {
	s.client.Stop()
}

// UpsertPrimary merges the master-row scalar fields into the wide
// document, creating it when absent. Nested arrays are left untouched:
// the patch is a partial document, never a full replace.
func (s *Store) UpsertPrimary(ctx context.Context, id string, patch map[string]interface{}) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.Update().Index(s.index).Id(id).
		Doc(patch).
		DocAsUpsert(true).
		RetryOnConflict(conflictMaxRetries).
		Do(octx)
	if err != nil {
		return errors.Wrapf(classify(err), "upsert document %s", id)
	}
	s.countMutation(ctx, "upsert_primary")
	log.WithFields(log.Fields{"index": s.index, "id": id}).Debug("primary upserted")
	return nil
}

// DeletePrimary removes the wide document including all nested arrays.
// An absent document counts as deleted.
func (s *Store) DeletePrimary(ctx context.Context, id string) error {
	if err := s.deleteDoc(ctx, s.index, id); err != nil {
		return err
	}
	s.countMutation(ctx, "delete_primary")
	return nil
}

// UpsertNested replaces-or-appends one entry of the named nested array.
// The array mutation runs as a store-side script; this method only tracks
// the document version and retries lost races. An absent parent document
// is created with a single-entry array.
func (s *Store) UpsertNested(ctx context.Context, parentID, field string, entry map[string]interface{}) error {
	op := func() error {
		seqNo, primaryTerm, found, err := s.version(ctx, parentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if found {
			err = s.nestedCAS(ctx, parentID, field, entry, seqNo, primaryTerm)
		} else {
			err = s.nestedCreate(ctx, parentID, field, entry)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrConflict):
			s.countConflict(ctx)
			return err // lost a race; re-read and try again
		case errors.Is(err, ErrNotFound):
			return err // deleted between read and write; next pass creates
		default:
			return backoff.Permanent(err)
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(newConflictBackoff(), ctx)); err != nil {
		return errors.Wrapf(err, "upsert %s entry on document %s", field, parentID)
	}
	s.countMutation(ctx, "upsert_nested")
	log.WithFields(log.Fields{
		"index": s.index, "id": parentID, "field": field, "entry": entry["Id"],
	}).Debug("nested entry upserted")
	return nil
}

// DeleteNested removes the entry with the given id from the named nested
// array. Absent parent documents count as deleted.
func (s *Store) DeleteNested(ctx context.Context, parentID, field, entryID string) error {
	op := func() error {
		octx, cancel := s.opCtx(ctx)
		defer cancel()
		_, err := s.client.Update().Index(s.index).Id(parentID).
			Script(removeScript(field, entryID)).
			RetryOnConflict(conflictMaxRetries).
			Do(octx)
		switch err = classify(err); {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			return nil
		case errors.Is(err, ErrConflict):
			s.countConflict(ctx)
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(newConflictBackoff(), ctx)); err != nil {
		return errors.Wrapf(err, "remove %s entry %s from document %s", field, entryID, parentID)
	}
	s.countMutation(ctx, "delete_nested")
	log.WithFields(log.Fields{
		"index": s.index, "id": parentID, "field": field, "entry": entryID,
	}).Debug("nested entry removed")
	return nil
}

// IndexSide stores a standalone document in a side index, replacing any
// previous image.
func (s *Store) IndexSide(ctx context.Context, index, id string, doc map[string]interface{}) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.Index().Index(index).Id(id).BodyJson(doc).Do(octx)
	if err != nil {
		return errors.Wrapf(classify(err), "index document %s/%s", index, id)
	}
	s.countMutation(ctx, "index_side")
	log.WithFields(log.Fields{"index": index, "id": id}).Debug("side document indexed")
	return nil
}

// DeleteSide removes a standalone side-index document; absent counts as
// deleted.
func (s *Store) DeleteSide(ctx context.Context, index, id string) error {
	if err := s.deleteDoc(ctx, index, id); err != nil {
		return err
	}
	s.countMutation(ctx, "delete_side")
	return nil
}

// SearchOperating returns the operating entries of one work order, newest
// first, capped at 100.
func (s *Store) SearchOperating(ctx context.Context, workOrderID string) ([]map[string]interface{}, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.client.Search().Index(SideIndexOperating).
		Query(elastic.NewTermQuery("WorkOrderId", workOrderID)).
		Sort("InsertTime", false).
		Size(100).
		Do(octx)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "search operating entries of work order %s", workOrderID)
	}
	out := make([]map[string]interface{}, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var doc map[string]interface{}
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, errors.Wrapf(err, "decode operating entry %s", hit.Id)
		}
		out = append(out, doc)
	}
	return out, nil
}

// Count reports the number of documents in an index. Used by the status
// command.
func (s *Store) Count(ctx context.Context, index string) (int64, error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.client.Count(index).Do(octx)
	if err != nil {
		return 0, errors.Wrapf(classify(err), "count documents in %s", index)
	}
	return n, nil
}

// Index returns the primary index name.
func (s *Store) Index() string {
	return s.index
}

func (s *Store) deleteDoc(ctx context.Context, index, id string) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.Delete().Index(index).Id(id).Do(octx)
	switch err = classify(err); {
	case err == nil:
		log.WithFields(log.Fields{"index": index, "id": id}).Debug("document deleted")
		return nil
	case errors.Is(err, ErrNotFound):
		log.WithFields(log.Fields{"index": index, "id": id}).Debug("document already absent")
		return nil
	default:
		return errors.Wrapf(err, "delete document %s/%s", index, id)
	}
}

// version reads the document's current sequence number and primary term.
// found is false when the document does not exist.
func (s *Store) version(ctx context.Context, id string) (seqNo, primaryTerm int64, found bool, err error) {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	get, err := s.client.Get().Index(s.index).Id(id).Do(octx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, errors.Wrapf(err, "read version of document %s", id)
	}
	if !get.Found || get.SeqNo == nil || get.PrimaryTerm == nil {
		return 0, 0, false, nil
	}
	return *get.SeqNo, *get.PrimaryTerm, true, nil
}

// nestedCAS runs the scripted array upsert with the observed sequence
// number as an optimistic precondition.
func (s *Store) nestedCAS(ctx context.Context, parentID, field string, entry map[string]interface{}, seqNo, primaryTerm int64) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.Update().Index(s.index).Id(parentID).
		Script(upsertScript(field, entry)).
		IfSeqNo(seqNo).
		IfPrimaryTerm(primaryTerm).
		Do(octx)
	return classify(err)
}

// nestedCreate indexes a minimal parent document holding only the
// single-entry array. A concurrent creator wins gracefully: the attached
// script merges our entry into the raced-in document instead.
func (s *Store) nestedCreate(ctx context.Context, parentID, field string, entry map[string]interface{}) error {
	octx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.client.Update().Index(s.index).Id(parentID).
		Script(upsertScript(field, entry)).
		Upsert(map[string]interface{}{field: []interface{}{entry}}).
		Do(octx)
	return classify(err)
}

func (s *Store) countMutation(ctx context.Context, kind string) {
	if s.metrics != nil {
		s.metrics.StoreMutation(ctx, kind)
	}
}

func (s *Store) countConflict(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.ConflictRetry(ctx)
	}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// classify maps transport-level errors onto the package sentinels so that
// callers can branch with errors.Is.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case elastic.IsNotFound(err):
		return ErrNotFound
	case elastic.IsConflict(err):
		return ErrConflict
	default:
		return err
	}
}
