package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/karigar/karigar/internal/models"
	"github.com/sirupsen/logrus"
)

// Item layout in the single table:
//
//	APPLICATION#<id>  METADATA                   application (GSI1: ARTISAN#<artisan>)
//	APPLICATION#<id>  TIMELINE#<ts>#<status>     timeline entry
//	APPLICATION#<id>  EVENT#<status>#<eventId>   webhook event marker
//	PORTALREF#<portal>#<ref>  METADATA           reference -> application id
const artisanIndex = "GSI1"

// sortKeyTime is fixed width so sort keys order chronologically.
const sortKeyTime = "2006-01-02T15:04:05.000000000Z"

var (
	ErrStaleStatus    = errors.New("application status changed concurrently")
	ErrDuplicateEvent = errors.New("status event already recorded")
)

type ApplicationRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewApplicationRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *ApplicationRepository {
	return &ApplicationRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func applicationPK(id string) string {
	return "APPLICATION#" + id
}

func portalRefPK(portal, ref string) string {
	return "PORTALREF#" + portal + "#" + ref
}

// timelineSK breaks timestamp ties on status rank; clamped transitions can
// share a timestamp.
func timelineSK(e models.TimelineEntry) string {
	return fmt.Sprintf("TIMELINE#%s#%02d#%s", e.Timestamp.UTC().Format(sortKeyTime), e.Status.Rank(), e.Status)
}

func eventSK(e models.TimelineEntry) string {
	id := e.EventID
	if id == "" {
		id = "-"
	}
	return "EVENT#" + string(e.Status) + "#" + id
}

func (r *ApplicationRepository) timelinePut(entry models.TimelineEntry) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timeline entry: %w", err)
	}
	for k, v := range key(applicationPK(entry.ApplicationID), timelineSK(entry)) {
		item[k] = v
	}
	return &types.Put{TableName: aws.String(r.tableName), Item: item}, nil
}

// Create stores a new application with its first timeline entry and, when
// the application was forwarded to a portal, the reference lookup item.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application, first models.TimelineEntry) error {
	item, err := attributevalue.MarshalMap(app)
	if err != nil {
		return fmt.Errorf("failed to marshal application: %w", err)
	}
	for k, v := range key(applicationPK(app.ApplicationID), "METADATA") {
		item[k] = v
	}
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: "ARTISAN#" + app.ArtisanID}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: "APPLICATION#" + app.SubmittedAt.UTC().Format(sortKeyTime) + "#" + app.ApplicationID}
	item["status_rank"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", app.Status.Rank())}

	entryPut, err := r.timelinePut(first)
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}},
		{Put: entryPut},
	}

	if app.HasPortal() {
		ref := key(portalRefPK(app.PortalName, app.PortalReference), "METADATA")
		ref["application_id"] = &types.AttributeValueMemberS{Value: app.ApplicationID}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item:      ref,
		}})
	}

	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		r.logger.WithError(err).WithField("application_id", app.ApplicationID).Error("Failed to create application in DynamoDB")
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

func (r *ApplicationRepository) Get(ctx context.Context, applicationID string) (*models.Application, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(applicationPK(applicationID), "METADATA"),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var app models.Application
	if err := attributevalue.UnmarshalMap(result.Item, &app); err != nil {
		return nil, fmt.Errorf("failed to unmarshal application: %w", err)
	}

	return &app, nil
}

func (r *ApplicationRepository) ListByArtisan(ctx context.Context, artisanID string) ([]models.Application, error) {
	var apps []models.Application
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(artisanIndex),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: "ARTISAN#" + artisanID},
				":prefix": &types.AttributeValueMemberS{Value: "APPLICATION#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query applications by artisan: %w", err)
		}

		var page []models.Application
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal applications: %w", err)
		}
		apps = append(apps, page...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return apps, nil
}

func (r *ApplicationRepository) FindByPortalReference(ctx context.Context, portalName, reference string) (*models.Application, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(portalRefPK(portalName, reference), "METADATA"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve portal reference: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	idAttr, ok := result.Item["application_id"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return nil, ErrNotFound
	}

	return r.Get(ctx, idAttr.Value)
}

// AppendTransition moves the application from `from` to entry.Status and
// appends entry, all or nothing. It fails with ErrStaleStatus when the
// stored status is no longer `from` and with ErrDuplicateEvent when the
// same (application, status, event) was already recorded.
func (r *ApplicationRepository) AppendTransition(ctx context.Context, from models.ApplicationStatus, entry models.TimelineEntry) error {
	entryPut, err := r.timelinePut(entry)
	if err != nil {
		return err
	}

	update := "SET #status = :to, status_rank = :rank, updated_at = :ts"
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(from)},
		":to":   &types.AttributeValueMemberS{Value: string(entry.Status)},
		":rank": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", entry.Status.Rank())},
		":ts":   &types.AttributeValueMemberS{Value: entry.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	if entry.Source == models.SourcePortalSync {
		update += ", last_synced_at = :ts"
	}

	marker := key(applicationPK(entry.ApplicationID), eventSK(entry))
	marker["recorded_at"] = &types.AttributeValueMemberS{Value: entry.Timestamp.UTC().Format(time.RFC3339Nano)}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(r.tableName),
				Key:                       key(applicationPK(entry.ApplicationID), "METADATA"),
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String("#status = :from"),
				ExpressionAttributeNames:  map[string]string{"#status": "status"},
				ExpressionAttributeValues: values,
			}},
			{Put: entryPut},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                marker,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		codes := cancellationCodes(err)
		switch {
		case conditionFailed(codes, 2):
			return ErrDuplicateEvent
		case conditionFailed(codes, 0):
			return ErrStaleStatus
		}
		return fmt.Errorf("failed to append transition: %w", err)
	}

	return nil
}

// EventRecorded reports whether a marker for the event exists.
func (r *ApplicationRepository) EventRecorded(ctx context.Context, entry models.TimelineEntry) (bool, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(applicationPK(entry.ApplicationID), eventSK(entry)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check event marker: %w", err)
	}
	return result.Item != nil, nil
}

func (r *ApplicationRepository) Timeline(ctx context.Context, applicationID string) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: applicationPK(applicationID)},
				":prefix": &types.AttributeValueMemberS{Value: "TIMELINE#"},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query timeline: %w", err)
		}

		var page []models.TimelineEntry
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timeline: %w", err)
		}
		entries = append(entries, page...)

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return entries, nil
}

func (r *ApplicationRepository) MarkSynced(ctx context.Context, applicationID string, at time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 key(applicationPK(applicationID), "METADATA"),
		UpdateExpression:    aws.String("SET last_synced_at = :ts"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark application synced: %w", err)
	}

	return nil
}
