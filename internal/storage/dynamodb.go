// Package storage provides persistence implementations for the sync tracker.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const (
	// DefaultBucketIndex is the name of the GSI keyed on the bucket attribute.
	DefaultBucketIndex = "BucketIndex"

	statusDocumentKey        = "sync_status"
	notificationsDocumentKey = "notifications"
)

// DynamoDBAPI defines the DynamoDB operations used by the tables.
type DynamoDBAPI interface {
	// DeleteItem removes an item from DynamoDB.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)
}

// EstablishmentTable stores establishment records in DynamoDB, one item per record.
type EstablishmentTable struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// indexName is the name of the bucket GSI.
	indexName string

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewEstablishmentTable creates a new DynamoDB-backed establishment store.
func NewEstablishmentTable(client DynamoDBAPI, tableName string, indexName string) (*EstablishmentTable, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}
	if indexName == "" {
		indexName = DefaultBucketIndex
	}

	return &EstablishmentTable{
		client:    client,
		indexName: indexName,
		tableName: tableName,
	}, nil
}

// Establishment returns the record with the given ID.
func (t *EstablishmentTable) Establishment(ctx context.Context, id string) (*establishment.Record, error) {
	if id == "" {
		return nil, errors.New("establishment ID is required")
	}

	output, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return nil, fmt.Errorf("%w: %s", establishment.ErrNotFound, id)
	}

	record, err := parseRecord(output.Item)
	if err != nil {
		return nil, fmt.Errorf("parsing item: %w", err)
	}
	return &record, nil
}

// Establishments returns every record in the bucket, oldest first.
func (t *EstablishmentTable) Establishments(ctx context.Context, bucket establishment.Bucket) ([]establishment.Record, error) {
	records := []establishment.Record{}

	var startKey map[string]types.AttributeValue
	for {
		output, err := t.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(t.tableName),
			IndexName:              aws.String(t.indexName),
			KeyConditionExpression: aws.String("#b = :b"),
			ExpressionAttributeNames: map[string]string{
				"#b": "bucket",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":b": &types.AttributeValueMemberS{Value: string(bucket)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}

		for _, item := range output.Items {
			record, err := parseRecord(item)
			if err != nil {
				return nil, fmt.Errorf("parsing item: %w", err)
			}
			records = append(records, record)
		}

		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	establishment.SortByBucket(records)
	return records, nil
}

// PutEstablishment creates or replaces a record.
func (t *EstablishmentTable) PutEstablishment(ctx context.Context, record establishment.Record) error {
	if record.ID == "" {
		return errors.New("establishment ID is required")
	}

	_, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      recordItem(record),
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return nil
}

func recordItem(r establishment.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":                &types.AttributeValueMemberS{Value: r.ID},
		"bucket":            &types.AttributeValueMemberS{Value: string(r.Bucket)},
		"name":              &types.AttributeValueMemberS{Value: r.Name},
		"lat":               &types.AttributeValueMemberN{Value: strconv.FormatFloat(r.Lat, 'f', -1, 64)},
		"lon":               &types.AttributeValueMemberN{Value: strconv.FormatFloat(r.Lon, 'f', -1, 64)},
		"accepts_lightning": &types.AttributeValueMemberBOOL{Value: r.AcceptsLightning},
		"accepts_onchain":   &types.AttributeValueMemberBOOL{Value: r.AcceptsOnchain},
		"needs_update":      &types.AttributeValueMemberBOOL{Value: r.NeedsUpdate},
		"submitted_at":      &types.AttributeValueMemberS{Value: r.SubmittedAt.Format(time.RFC3339Nano)},
	}

	// Empty strings are omitted rather than stored.
	optional := map[string]string{
		"address":          r.Address,
		"description":      r.Description,
		"map_id":           r.MapID,
		"municipality":     r.Municipality,
		"phone":            r.Phone,
		"rejection_reason": r.RejectionReason,
		"website":          r.Website,
	}
	for k, v := range optional {
		if v != "" {
			item[k] = &types.AttributeValueMemberS{Value: v}
		}
	}

	times := map[string]*time.Time{
		"approved_at": r.ApprovedAt,
		"rejected_at": r.RejectedAt,
		"synced_at":   r.SyncedAt,
	}
	for k, v := range times {
		if v != nil {
			item[k] = &types.AttributeValueMemberS{Value: v.Format(time.RFC3339Nano)}
		}
	}

	return item
}

func parseRecord(item map[string]types.AttributeValue) (establishment.Record, error) {
	r := establishment.Record{
		ID:              stringAttr(item, "id"),
		Bucket:          establishment.Bucket(stringAttr(item, "bucket")),
		Name:            stringAttr(item, "name"),
		Address:         stringAttr(item, "address"),
		Description:     stringAttr(item, "description"),
		MapID:           stringAttr(item, "map_id"),
		Municipality:    stringAttr(item, "municipality"),
		Phone:           stringAttr(item, "phone"),
		RejectionReason: stringAttr(item, "rejection_reason"),
		Website:         stringAttr(item, "website"),
	}

	if v, ok := item["accepts_lightning"].(*types.AttributeValueMemberBOOL); ok {
		r.AcceptsLightning = v.Value
	}
	if v, ok := item["accepts_onchain"].(*types.AttributeValueMemberBOOL); ok {
		r.AcceptsOnchain = v.Value
	}
	if v, ok := item["needs_update"].(*types.AttributeValueMemberBOOL); ok {
		r.NeedsUpdate = v.Value
	}

	var err error
	if r.Lat, err = numberAttr(item, "lat"); err != nil {
		return r, err
	}
	if r.Lon, err = numberAttr(item, "lon"); err != nil {
		return r, err
	}

	submitted, err := timeAttr(item, "submitted_at")
	if err != nil {
		return r, err
	}
	if submitted != nil {
		r.SubmittedAt = *submitted
	}
	if r.ApprovedAt, err = timeAttr(item, "approved_at"); err != nil {
		return r, err
	}
	if r.RejectedAt, err = timeAttr(item, "rejected_at"); err != nil {
		return r, err
	}
	if r.SyncedAt, err = timeAttr(item, "synced_at"); err != nil {
		return r, err
	}

	return r, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return f, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (*time.Time, error) {
	v, ok := item[key].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.Value)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &t, nil
}

// DocumentTable stores whole JSON documents in DynamoDB, one item per document.
// It holds the sync status and the notification list.
type DocumentTable struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDocumentTable creates a new DynamoDB-backed document store.
func NewDocumentTable(client DynamoDBAPI, tableName string) (*DocumentTable, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &DocumentTable{
		client:    client,
		tableName: tableName,
	}, nil
}

// Status returns the stored sync status, or nil if none exists.
func (t *DocumentTable) Status(ctx context.Context) (*sync.Status, error) {
	var status sync.Status
	found, err := t.load(ctx, statusDocumentKey, &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// SetStatus replaces the stored sync status.
func (t *DocumentTable) SetStatus(ctx context.Context, status sync.Status) error {
	return t.save(ctx, statusDocumentKey, status)
}

// Notifications returns the stored notification list.
func (t *DocumentTable) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var list []notify.Notification
	if _, err := t.load(ctx, notificationsDocumentKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetNotifications replaces the stored notification list.
func (t *DocumentTable) SetNotifications(ctx context.Context, notifications []notify.Notification) error {
	return t.save(ctx, notificationsDocumentKey, notifications)
}

func (t *DocumentTable) load(ctx context.Context, key string, v any) (bool, error) {
	output, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return false, fmt.Errorf("getting %s from DynamoDB: %w", key, err)
	}

	doc := stringAttr(output.Item, "document")
	if doc == "" {
		return false, nil
	}

	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (t *DocumentTable) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item: map[string]types.AttributeValue{
			"id":         &types.AttributeValueMemberS{Value: key},
			"document":   &types.AttributeValueMemberS{Value: string(data)},
			"updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting %s to DynamoDB: %w", key, err)
	}

	return nil
}
