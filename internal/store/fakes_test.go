package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeUserCollection keeps documents in memory and evaluates the small filter
// language the user store relies on: equality plus $lt, $gte and $eq.
type fakeUserCollection struct {
	mu        sync.Mutex
	docs      []bson.M
	updateErr error
	updates   int
}

func newFakeUserCollection() *fakeUserCollection {
	return &fakeUserCollection{}
}

func (f *fakeUserCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, doc := range f.docs {
		if matches(doc, filter.(bson.M)) {
			return mongo.NewSingleResultFromDocument(copyDoc(doc), nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func (f *fakeUserCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matched := make([]bson.M, 0)
	for _, doc := range f.docs {
		if matches(doc, filter.(bson.M)) {
			matched = append(matched, copyDoc(doc))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, _ := toInt64(matched[i]["user_id"])
		b, _ := toInt64(matched[j]["user_id"])
		return a < b
	})

	out := make([]interface{}, 0, len(matched))
	for _, doc := range matched {
		out = append(out, doc)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (f *fakeUserCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	filterDoc := filter.(bson.M)
	updateDoc := update.(bson.M)
	setDoc, _ := updateDoc["$set"].(bson.M)
	setOnInsertDoc, _ := updateDoc["$setOnInsert"].(bson.M)

	for _, doc := range f.docs {
		if matches(doc, filterDoc) {
			merge(doc, setDoc)
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}

	upsert := len(opts) > 0 && opts[0] != nil && opts[0].Upsert != nil && *opts[0].Upsert
	if !upsert {
		return &mongo.UpdateResult{}, nil
	}

	doc := bson.M{}
	for key, value := range filterDoc {
		if _, isOperator := value.(bson.M); !isOperator {
			doc[key] = value
		}
	}
	merge(doc, setOnInsertDoc)
	merge(doc, setDoc)
	f.docs = append(f.docs, doc)

	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: doc["user_id"]}, nil
}

func (f *fakeUserCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, doc := range f.docs {
		if matches(doc, filter.(bson.M)) {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongo.DeleteResult{}, nil
}

func (f *fakeUserCollection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, doc := range f.docs {
		if matches(doc, filter.(bson.M)) {
			count++
		}
	}
	return count, nil
}

// set overwrites fields of the stored document for userID.
func (f *fakeUserCollection) set(userID int64, fields bson.M) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, doc := range f.docs {
		if id, _ := toInt64(doc["user_id"]); id == userID {
			merge(doc, fields)
			return
		}
	}
}

type fakeLogCollection struct {
	mu   sync.Mutex
	docs []logDocument
	err  error
}

func (f *fakeLogCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	doc, ok := document.(logDocument)
	if !ok {
		return nil, errors.New("unexpected log document type")
	}
	doc.ID = primitive.NewObjectID()
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: doc.ID}, nil
}

func (f *fakeLogCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	filterDoc := filter.(bson.M)
	matched := make([]logDocument, 0)
	for _, doc := range f.docs {
		if userID, ok := filterDoc["user_id"]; ok && userID != doc.UserID {
			continue
		}
		matched = append(matched, doc)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.Hex() > matched[j].ID.Hex()
	})

	if len(opts) > 0 && opts[0] != nil {
		if opts[0].Skip != nil {
			skip := int(*opts[0].Skip)
			if skip > len(matched) {
				skip = len(matched)
			}
			matched = matched[skip:]
		}
		if opts[0].Limit != nil && int(*opts[0].Limit) < len(matched) {
			matched = matched[:*opts[0].Limit]
		}
	}

	out := make([]interface{}, 0, len(matched))
	for _, doc := range matched {
		out = append(out, doc)
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func matches(doc bson.M, filter bson.M) bool {
	for key, want := range filter {
		got := doc[key]
		if ops, ok := want.(bson.M); ok {
			for op, operand := range ops {
				if !compare(op, got, operand) {
					return false
				}
			}
			continue
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

func compare(op string, got, operand interface{}) bool {
	a, okA := toInt64(got)
	b, okB := toInt64(operand)
	if !okA || !okB {
		return false
	}
	switch op {
	case "$lt":
		return a < b
	case "$gte":
		return a >= b
	case "$eq":
		return a == b
	default:
		return false
	}
}

func equal(got, want interface{}) bool {
	if a, ok := toInt64(got); ok {
		b, ok := toInt64(want)
		return ok && a == b
	}
	return got == want
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func merge(dst bson.M, updates bson.M) {
	for k, v := range updates {
		dst[k] = v
	}
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
