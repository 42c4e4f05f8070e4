package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
)

const (
	auditStream = "audit"

	// sortKeyLayout sorts lexicographically in time order for UTC times.
	sortKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// AuditTable stores audit entries in DynamoDB under a single partition,
// sorted by time.
type AuditTable struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewAuditTable creates a new DynamoDB-backed audit store.
func NewAuditTable(client DynamoDBAPI, tableName string) (*AuditTable, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &AuditTable{
		client:    client,
		tableName: tableName,
	}, nil
}

// AppendEntry stores a new entry.
func (t *AuditTable) AppendEntry(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		return errors.New("audit entry ID is required")
	}

	item := map[string]types.AttributeValue{
		"stream":      &types.AttributeValueMemberS{Value: auditStream},
		"sk":          &types.AttributeValueMemberS{Value: sortKey(entry.Time, entry.ID)},
		"id":          &types.AttributeValueMemberS{Value: entry.ID},
		"category":    &types.AttributeValueMemberS{Value: string(entry.Category)},
		"description": &types.AttributeValueMemberS{Value: entry.Description},
		"time":        &types.AttributeValueMemberS{Value: entry.Time.UTC().Format(time.RFC3339Nano)},
		"user":        &types.AttributeValueMemberS{Value: entry.User},
	}
	if len(entry.Details) > 0 {
		details := make(map[string]types.AttributeValue, len(entry.Details))
		for k, v := range entry.Details {
			details[k] = &types.AttributeValueMemberS{Value: v}
		}
		item["details"] = &types.AttributeValueMemberM{Value: details}
	}

	_, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting audit entry to DynamoDB: %w", err)
	}

	return nil
}

// Entries returns matching entries, newest first.
func (t *AuditTable) Entries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(t.tableName),
		KeyConditionExpression: aws.String("#s = :s"),
		ExpressionAttributeNames: map[string]string{
			"#s": "stream",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: auditStream},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if !filter.Since.IsZero() {
		input.KeyConditionExpression = aws.String("#s = :s AND #k >= :since")
		input.ExpressionAttributeNames["#k"] = "sk"
		input.ExpressionAttributeValues[":since"] = &types.AttributeValueMemberS{Value: filter.Since.UTC().Format(sortKeyLayout)}
	}

	entries := []audit.Entry{}
	for {
		output, err := t.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			entry, err := parseAuditEntry(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			if !filter.Match(entry) {
				continue
			}
			entries = append(entries, entry)
			if filter.Limit > 0 && len(entries) == filter.Limit {
				return entries, nil
			}
		}

		if len(output.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// DeleteEntriesBefore removes entries older than cutoff.
func (t *AuditTable) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := t.keys(ctx, &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("#s = :s AND #k < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":      &types.AttributeValueMemberS{Value: auditStream},
			":cutoff": &types.AttributeValueMemberS{Value: cutoff.UTC().Format(sortKeyLayout)},
		},
	})
	if err != nil {
		return 0, err
	}
	return t.deleteKeys(ctx, keys)
}

// TrimEntries keeps only the newest maxEntries entries.
func (t *AuditTable) TrimEntries(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	keys, err := t.keys(ctx, &dynamodb.QueryInput{
		KeyConditionExpression: aws.String("#s = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: auditStream},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return 0, err
	}
	if len(keys) <= maxEntries {
		return 0, nil
	}
	return t.deleteKeys(ctx, keys[maxEntries:])
}

// keys runs a key-only query and returns the sort keys of every match.
func (t *AuditTable) keys(ctx context.Context, input *dynamodb.QueryInput) ([]string, error) {
	input.TableName = aws.String(t.tableName)
	input.ProjectionExpression = aws.String("#s, #k")
	input.ExpressionAttributeNames = map[string]string{
		"#s": "stream",
		"#k": "sk",
	}

	var keys []string
	for {
		output, err := t.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		for _, item := range output.Items {
			keys = append(keys, stringAttr(item, "sk"))
		}
		if len(output.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

func (t *AuditTable) deleteKeys(ctx context.Context, keys []string) (int, error) {
	for i, key := range keys {
		_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(t.tableName),
			Key: map[string]types.AttributeValue{
				"stream": &types.AttributeValueMemberS{Value: auditStream},
				"sk":     &types.AttributeValueMemberS{Value: key},
			},
		})
		if err != nil {
			return i, fmt.Errorf("deleting audit entry from DynamoDB: %w", err)
		}
	}
	return len(keys), nil
}

func sortKey(t time.Time, id string) string {
	return t.UTC().Format(sortKeyLayout) + "#" + id
}

func parseAuditEntry(item map[string]types.AttributeValue) (audit.Entry, error) {
	entry := audit.Entry{
		Category:    audit.Category(stringAttr(item, "category")),
		Description: stringAttr(item, "description"),
		ID:          stringAttr(item, "id"),
		User:        stringAttr(item, "user"),
	}

	ts, err := timeAttr(item, "time")
	if err != nil {
		return entry, err
	}
	if ts != nil {
		entry.Time = *ts
	}

	if m, ok := item["details"].(*types.AttributeValueMemberM); ok {
		entry.Details = make(map[string]string, len(m.Value))
		for k, v := range m.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				entry.Details[k] = s.Value
			}
		}
	}

	return entry, nil
}
