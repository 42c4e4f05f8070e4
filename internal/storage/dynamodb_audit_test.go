package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
)

// fakeAuditPartition emulates the single-partition audit table with key-condition
// support for the expressions AuditTable issues. Pages hold at most two items.
type fakeAuditPartition struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeAuditPartition() *fakeAuditPartition {
	return &fakeAuditPartition{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeAuditPartition) client() *mockDynamoDBClient {
	return &mockDynamoDBClient{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			f.items[stringAttr(params.Item, "sk")] = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			delete(f.items, stringAttr(params.Key, "sk"))
			return &dynamodb.DeleteItemOutput{}, nil
		},
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			keys := make([]string, 0, len(f.items))
			for k := range f.items {
				expr := *params.KeyConditionExpression
				switch {
				case strings.Contains(expr, ":since"):
					if k < stringAttr(params.ExpressionAttributeValues, ":since") {
						continue
					}
				case strings.Contains(expr, ":cutoff"):
					if k >= stringAttr(params.ExpressionAttributeValues, ":cutoff") {
						continue
					}
				}
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if params.ScanIndexForward != nil && !*params.ScanIndexForward {
				sort.Sort(sort.Reverse(sort.StringSlice(keys)))
			}

			start := 0
			if params.ExclusiveStartKey != nil {
				last := stringAttr(params.ExclusiveStartKey, "sk")
				for i, k := range keys {
					if k == last {
						start = i + 1
					}
				}
			}
			end := min(start+2, len(keys))

			out := &dynamodb.QueryOutput{}
			for _, k := range keys[start:end] {
				out.Items = append(out.Items, f.items[k])
			}
			if end < len(keys) {
				out.LastEvaluatedKey = map[string]types.AttributeValue{
					"stream": &types.AttributeValueMemberS{Value: auditStream},
					"sk":     &types.AttributeValueMemberS{Value: keys[end-1]},
				}
			}
			return out, nil
		},
	}
}

func seedAudit(t *testing.T, table *AuditTable, base time.Time, n int) {
	t.Helper()

	for i := range n {
		require.NoError(t, table.AppendEntry(context.Background(), audit.Entry{
			Category:    audit.CategoryMapSync,
			Description: "entry",
			Details:     map[string]string{"n": string(rune('a' + i))},
			ID:          string(rune('a' + i)),
			Time:        base.Add(time.Duration(i) * time.Hour),
			User:        audit.SystemUser,
		}))
	}
}

func TestNewAuditTable(t *testing.T) {
	t.Parallel()

	_, err := NewAuditTable(nil, "audit")
	require.Error(t, err)

	_, err = NewAuditTable(&mockDynamoDBClient{}, "")
	require.Error(t, err)
}

func TestAuditTable_Entries(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := newFakeAuditPartition()
	table, err := NewAuditTable(fake.client(), "audit")
	require.NoError(t, err)
	seedAudit(t, table, base, 5)

	all, err := table.Entries(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "e", all[0].ID)
	require.Equal(t, "a", all[4].ID)
	require.Equal(t, "e", all[0].Details["n"])
	require.True(t, all[0].Time.Equal(base.Add(4*time.Hour)))

	limited, err := table.Entries(context.Background(), audit.Filter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, limited, 3)

	since, err := table.Entries(context.Background(), audit.Filter{Since: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, since, 2)

	text, err := table.Entries(context.Background(), audit.Filter{Text: "c"})
	require.NoError(t, err)
	require.Len(t, text, 1)
	require.Equal(t, "c", text[0].ID)
}

func TestAuditTable_DeleteEntriesBefore(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := newFakeAuditPartition()
	table, err := NewAuditTable(fake.client(), "audit")
	require.NoError(t, err)
	seedAudit(t, table, base, 5)

	removed, err := table.DeleteEntriesBefore(context.Background(), base.Add(2*time.Hour))

	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Len(t, fake.items, 3)
}

func TestAuditTable_TrimEntries(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fake := newFakeAuditPartition()
	table, err := NewAuditTable(fake.client(), "audit")
	require.NoError(t, err)
	seedAudit(t, table, base, 5)

	removed, err := table.TrimEntries(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = table.TrimEntries(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	left, err := table.Entries(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Equal(t, "e", left[0].ID)
	require.Equal(t, "d", left[1].ID)
}

func TestAuditTable_Errors(t *testing.T) {
	t.Parallel()

	client := &mockDynamoDBClient{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("dynamodb error")
		},
		queryFunc: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return nil, errors.New("dynamodb error")
		},
	}
	table, err := NewAuditTable(client, "audit")
	require.NoError(t, err)

	err = table.AppendEntry(context.Background(), audit.Entry{})
	require.ErrorContains(t, err, "audit entry ID is required")

	err = table.AppendEntry(context.Background(), audit.Entry{ID: "x"})
	require.ErrorContains(t, err, "putting audit entry to DynamoDB")

	_, err = table.Entries(context.Background(), audit.Filter{})
	require.ErrorContains(t, err, "querying DynamoDB")

	_, err = table.TrimEntries(context.Background(), 1)
	require.ErrorContains(t, err, "querying DynamoDB")
}

func TestSortKeyOrdersByTime(t *testing.T) {
	t.Parallel()

	a := sortKey(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), "z")
	b := sortKey(time.Date(2024, 6, 1, 12, 0, 0, 100, time.UTC), "a")
	c := sortKey(time.Date(2024, 6, 1, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600)), "a")

	require.Less(t, a, b)
	require.Less(t, b, c)
}
