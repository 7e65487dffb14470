package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

type fakeCollection struct {
	mu      sync.Mutex
	docs    []bson.D
	indexes int
}

func (c *fakeCollection) InsertOne(ctx context.Context, doc bson.D) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

func (c *fakeCollection) EnsureIndexes(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes++
	return nil
}

func (c *fakeCollection) FindByForm(ctx context.Context, formID string, limit int64) ([]bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []bson.Raw
	for i := len(c.docs) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		raw, err := bson.Marshal(c.docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

type fakeClient struct {
	mu           sync.Mutex
	uri          string
	collections  map[string]*fakeCollection
	disconnected atomic.Bool
}

func (c *fakeClient) Collection(database, name string) Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := database + "." + name
	coll, ok := c.collections[key]
	if !ok {
		coll = &fakeCollection{}
		c.collections[key] = coll
	}
	return coll
}

func (c *fakeClient) Disconnect(ctx context.Context) error {
	c.disconnected.Store(true)
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   atomic.Int64
	clients map[string]*fakeClient
	err     error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{clients: make(map[string]*fakeClient)}
}

func (d *fakeDialer) dial(ctx context.Context, uri string) (Client, error) {
	d.dials.Add(1)
	time.Sleep(5 * time.Millisecond)
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeClient{uri: uri, collections: make(map[string]*fakeCollection)}
	d.clients[uri] = c
	return c, nil
}

func (d *fakeDialer) collection(uri, key string) *fakeCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[uri].collections[key]
}

func testSubmission(t *testing.T, formName, id string) models.Submission {
	t.Helper()
	var data models.Fields
	require.NoError(t, json.Unmarshal([]byte(`{"zip":"10001","email":"a@b.com","age":42,"prefs":{"b":1,"a":2}}`), &data))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Submission{FormID: "f1", FormName: formName, SubmissionID: id, Timestamp: now, Data: data, ReceivedAt: now}
}

func newTestAdapter(env targets.MapEnvironment, d *fakeDialer) *Adapter {
	resolver := targets.NewResolver(env, nil, "", targets.Defaults{})
	return New(resolver, d.dial, logging.Discard())
}

func TestAdapter_InsertResolvesDatabaseAndCollection(t *testing.T) {
	const uri = "mongodb://localhost:27017/fromuri"
	d := newFakeDialer()
	a := newTestAdapter(targets.MapEnvironment{"MONGODB_URI": uri}, d)
	ctx := context.Background()

	tests := []struct {
		name     string
		hint     targets.Hint
		formName string
		wantColl string
	}{
		{"genuine target names the database", targets.Hint{Target: "marketing"}, "Contact", "marketing.Contact"},
		{"technical target uses uri database", targets.Hint{Target: "MONGODB_URI"}, "Contact", "fromuri.Contact"},
		{"form id when no form name", targets.Hint{Target: "default"}, "", "fromuri.f1"},
		{"explicit db name", targets.Hint{Target: "x", Config: &models.DatabaseConfig{DBName: "crm"}}, "Lead", "crm.Lead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := a.Insert(ctx, tt.hint, testSubmission(t, tt.formName, "s1"))
			require.NoError(t, err)
			assert.Equal(t, storage.OutcomeStored, out)
			coll := d.collection(uri, tt.wantColl)
			require.NotNil(t, coll)
			assert.Len(t, coll.docs, 1)
		})
	}
	assert.Equal(t, int64(1), d.dials.Load())
}

func TestAdapter_DuplicatesAreStored(t *testing.T) {
	const uri = "mongodb://localhost:27017"
	d := newFakeDialer()
	a := newTestAdapter(targets.MapEnvironment{"MONGODB_URI": uri}, d)
	sub := testSubmission(t, "Contact", "s1")

	for i := 0; i < 2; i++ {
		out, err := a.Insert(context.Background(), targets.Hint{}, sub)
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeStored, out)
	}
	coll := d.collection(uri, "postpipe.Contact")
	assert.Len(t, coll.docs, 2)
	assert.Equal(t, 1, coll.indexes)
}

func TestAdapter_ConcurrentFirstAccess(t *testing.T) {
	const uri = "mongodb://localhost:27017"
	d := newFakeDialer()
	a := newTestAdapter(targets.MapEnvironment{"MONGODB_URI_EVENTS": uri}, d)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Insert(context.Background(), targets.Hint{Target: "events"}, testSubmission(t, "Click", "s"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), d.dials.Load())
	assert.Equal(t, 1, a.Clients())
	coll := d.collection(uri, "postpipe.Click")
	assert.Equal(t, 1, coll.indexes)
	assert.Len(t, coll.docs, 20)
}

func TestAdapter_NoURI(t *testing.T) {
	d := newFakeDialer()
	a := newTestAdapter(targets.MapEnvironment{}, d)

	out, err := a.Insert(context.Background(), targets.Hint{Target: "events"}, testSubmission(t, "", "s1"))
	assert.ErrorIs(t, err, targets.ErrNoConnection)
	assert.Equal(t, storage.OutcomeFailed, out)
}

func TestAdapter_DialFailure(t *testing.T) {
	d := newFakeDialer()
	d.err = errors.New("server selection timeout")
	a := newTestAdapter(targets.MapEnvironment{"MONGODB_URI": "mongodb://down"}, d)

	require.Error(t, a.Connect(context.Background(), targets.Hint{}))
	assert.Zero(t, a.Clients())
}

func TestAdapter_QueryAndClose(t *testing.T) {
	const uri = "mongodb://localhost:27017"
	d := newFakeDialer()
	a := newTestAdapter(targets.MapEnvironment{"MONGODB_URI": uri}, d)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := a.Insert(ctx, targets.Hint{}, testSubmission(t, "", id))
		require.NoError(t, err)
	}

	got, err := a.Query(ctx, "f1", storage.QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].SubmissionID)
	assert.Equal(t, []string{"zip", "email", "age", "prefs"}, got[0].Data.Names())

	require.NoError(t, a.Close(ctx))
	assert.True(t, d.clients[uri].disconnected.Load())
}

func TestDocumentRoundTrip(t *testing.T) {
	sub := testSubmission(t, "Contact", "s1")
	doc, err := toDocument(sub)
	require.NoError(t, err)

	keys := make([]string, len(doc))
	for i, e := range doc {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{"formId", "formName", "submissionId", "timestamp", "data", "_receivedAt"}, keys)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	back, err := fromDocument(raw)
	require.NoError(t, err)

	assert.Equal(t, sub.FormID, back.FormID)
	assert.Equal(t, sub.FormName, back.FormName)
	assert.Equal(t, sub.SubmissionID, back.SubmissionID)
	assert.True(t, sub.Timestamp.Equal(back.Timestamp))
	assert.True(t, sub.ReceivedAt.Equal(back.ReceivedAt))

	want, err := json.Marshal(sub.Data)
	require.NoError(t, err)
	got, err := json.Marshal(back.Data)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, sub.Data.Names(), back.Data.Names())
}

func dataOf(t *testing.T, doc bson.D) interface{} {
	t.Helper()
	for _, e := range doc {
		if e.Key == "data" {
			return e.Value
		}
	}
	t.Fatal("document has no data field")
	return nil
}

func TestToDocument_PlainJSON(t *testing.T) {
	big, err := primitive.ParseDecimal128("12345678901234567890")
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
		want bson.D
		back string
	}{
		{
			name: "oid-like object is an ordinary field",
			data: `{"ref":{"$oid":"not-hex"}}`,
			want: bson.D{{Key: "ref", Value: bson.D{{Key: "$oid", Value: "not-hex"}}}},
			back: `{"ref":{"$oid":"not-hex"}}`,
		},
		{
			name: "date-like object is not converted",
			data: `{"when":{"$date":"2024-01-01T00:00:00Z"}}`,
			want: bson.D{{Key: "when", Value: bson.D{{Key: "$date", Value: "2024-01-01T00:00:00Z"}}}},
			back: `{"when":{"$date":"2024-01-01T00:00:00Z"}}`,
		},
		{
			name: "integer beyond int64 keeps its digits",
			data: `{"big":12345678901234567890}`,
			want: bson.D{{Key: "big", Value: big}},
			back: `{"big":12345678901234567890}`,
		},
		{
			name: "int64 and float",
			data: `{"n":9007199254740993,"f":1.5,"neg":-3}`,
			want: bson.D{{Key: "n", Value: int64(9007199254740993)}, {Key: "f", Value: 1.5}, {Key: "neg", Value: int64(-3)}},
			back: `{"n":9007199254740993,"f":1.5,"neg":-3}`,
		},
		{
			name: "arrays scalars and nested order",
			data: `{"z":[true,null,"x",{"b":1,"a":2}],"a":"last"}`,
			want: bson.D{
				{Key: "z", Value: bson.A{true, nil, "x", bson.D{{Key: "b", Value: int64(1)}, {Key: "a", Value: int64(2)}}}},
				{Key: "a", Value: "last"},
			},
			back: `{"z":[true,null,"x",{"b":1,"a":2}],"a":"last"}`,
		},
		{
			name: "dollar key at top level",
			data: `{"$set":"x"}`,
			want: bson.D{{Key: "$set", Value: "x"}},
			back: `{"$set":"x"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := testSubmission(t, "", "s1")
			require.NoError(t, json.Unmarshal([]byte(tt.data), &sub.Data))

			doc, err := toDocument(sub)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dataOf(t, doc))

			raw, err := bson.Marshal(doc)
			require.NoError(t, err)
			back, err := fromDocument(raw)
			require.NoError(t, err)
			out, err := json.Marshal(back.Data)
			require.NoError(t, err)
			assert.Equal(t, tt.back, string(out))
		})
	}
}

func TestToDocument_EmptyData(t *testing.T) {
	sub := testSubmission(t, "", "s1")
	sub.Data = nil
	doc, err := toDocument(sub)
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, dataOf(t, doc))
}

func TestFromDocument_ForeignTypes(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	raw, err := bson.Marshal(bson.D{
		{Key: "formId", Value: "f1"},
		{Key: "data", Value: bson.D{
			{Key: "id", Value: oid},
			{Key: "at", Value: primitive.NewDateTimeFromTime(at)},
			{Key: "small", Value: int32(7)},
		}},
	})
	require.NoError(t, err)

	sub, err := fromDocument(raw)
	require.NoError(t, err)
	out, err := json.Marshal(sub.Data)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"`+oid.Hex()+`","at":"2024-02-03T04:05:06Z","small":7}`, string(out))
}

func TestFromDocument_DateTimestamp(t *testing.T) {
	ts := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	raw, err := bson.Marshal(bson.D{
		{Key: "formId", Value: "f1"},
		{Key: "submissionId", Value: "legacy"},
		{Key: "timestamp", Value: ts},
		{Key: "data", Value: bson.D{{Key: "k", Value: "v"}}},
	})
	require.NoError(t, err)

	sub, err := fromDocument(raw)
	require.NoError(t, err)
	assert.True(t, ts.Equal(sub.Timestamp))
	v, _ := sub.Data.Text("k")
	assert.Equal(t, "v", v)
}

func TestRedactHost(t *testing.T) {
	assert.Equal(t, "cluster0.example.mongodb.net", redactHost("mongodb+srv://user:pw@cluster0.example.mongodb.net/db?retryWrites=true"))
	assert.Equal(t, "h1:27017,h2:27017", redactHost("mongodb://h1:27017,h2:27017/?replicaSet=rs0"))
	assert.Equal(t, "localhost", redactHost("mongodb://"))
}
