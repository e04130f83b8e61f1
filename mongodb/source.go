// Package mongodb provides a jobloop.Source that reads job identifiers
// from a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/olivere/jobloop"
)

const (
	// socketTimeout should be long enough that even a slow mongo server
	// will respond in that length of time. Since mongo servers ping themselves
	// every 10 seconds, we use a value just over 2 ping periods to allow
	// for delayed pings due to issues such as CPU starvation etc.
	socketTimeout = 21 * time.Second

	// dialTimeout should be representative of the upper bound of the
	// time taken to dial a mongo server from within the same cloud/private
	// network.
	dialTimeout = 30 * time.Second

	// defaultCollectionName is the name of the collection in MongoDB.
	// It can be overridden by SetCollectionName.
	defaultCollectionName = "jobloop_jobs"
)

var errNotStarted = errors.New("mongodb: source not started")

// job is the document stored per job identifier. Next claims documents
// with findAndModify by setting Claimed, so a document is returned once
// no matter in which order producers insert them.
type job struct {
	ID      bson.ObjectId `bson:"_id"`
	JobID   string        `bson:"job_id"`
	Created int64         `bson:"created"`
	Claimed int64         `bson:"claimed"` // 0 until returned by Next
}

// Source represents a MongoDB-based job source.
// It implements the jobloop.Source and jobloop.Starter interfaces.
type Source struct {
	url            string
	dbname         string
	collectionName string

	mu      sync.Mutex // guards the following block
	session *mgo.Session
	coll    *mgo.Collection
}

// SourceOption is an options provider for Source.
type SourceOption func(*Source)

// SetCollectionName overrides the default collection name.
func SetCollectionName(collectionName string) SourceOption {
	return func(s *Source) {
		s.collectionName = collectionName
	}
}

// NewSource creates a new MongoDB-based source. The URL must name a
// database, e.g. "mongodb://localhost/jobloop". The connection is
// established when the loop calls Start.
func NewSource(mongodbURL string, options ...SourceOption) (*Source, error) {
	st := &Source{
		url:            mongodbURL,
		collectionName: defaultCollectionName,
	}
	for _, opt := range options {
		opt(st)
	}

	uri, err := url.Parse(mongodbURL)
	if err != nil {
		return nil, err
	}
	if uri.Path == "" || uri.Path == "/" {
		return nil, errors.New("mongodb: database missing in URL")
	}
	st.dbname = strings.TrimLeft(uri.Path, "/")
	return st, nil
}

// Start dials the server and creates the indices if necessary.
func (s *Source) Start(ctx context.Context) error {
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	session, err := mgo.DialWithTimeout(s.url, timeout)
	if err != nil {
		return err
	}
	session.SetMode(mgo.Monotonic, true)
	session.SetSocketTimeout(socketTimeout)
	if err := ctx.Err(); err != nil {
		session.Close()
		return err
	}

	coll := session.DB(s.dbname).C(s.collectionName)
	if err := coll.EnsureIndexKey("claimed", "_id"); err != nil {
		session.Close()
		return err
	}
	if err := coll.EnsureIndexKey("job_id"); err != nil {
		session.Close()
		return err
	}
	if err := coll.EnsureIndexKey("-created"); err != nil {
		session.Close()
		return err
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.Close()
	}
	s.session = session
	s.coll = coll
	s.mu.Unlock()
	return nil
}

// Close the MongoDB source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Close()
		s.session = nil
		s.coll = nil
	}
	return nil
}

// Next claims and returns the oldest unclaimed job identifier, or
// jobloop.ErrExhausted if there is none.
func (s *Source) Next(ctx context.Context) (jobloop.JobID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	coll, err := s.collection()
	if err != nil {
		return "", err
	}
	var j job
	change := mgo.Change{
		Update:    bson.M{"$set": bson.M{"claimed": time.Now().UnixNano()}},
		ReturnNew: true,
	}
	if _, err := coll.Find(bson.M{"claimed": 0}).Sort("_id").Apply(change, &j); err != nil {
		return "", wrapError(err)
	}
	return jobloop.JobID(j.JobID), nil
}

func (s *Source) collection() (*mgo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll == nil {
		return nil, errNotStarted
	}
	return s.coll, nil
}

// Add inserts job identifiers for the loop to pick up.
func (s *Source) Add(ctx context.Context, ids ...jobloop.JobID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	coll, err := s.collection()
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	docs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, &job{ID: bson.NewObjectId(), JobID: string(id), Created: now})
	}
	return wrapError(coll.Insert(docs...))
}

// Pending returns the number of unclaimed identifiers.
func (s *Source) Pending(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}
	n, err := coll.Find(bson.M{"claimed": 0}).Count()
	if err != nil {
		return 0, wrapError(err)
	}
	return int64(n), nil
}

func wrapError(err error) error {
	if err == mgo.ErrNotFound {
		return jobloop.ErrExhausted
	}
	return err
}
