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

var ErrArtisanExists = errors.New("artisan already registered for phone")

type ArtisanRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewArtisanRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *ArtisanRepository {
	return &ArtisanRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// GetByPhone returns nil, nil when no artisan owns the phone number.
func (r *ArtisanRepository) GetByPhone(ctx context.Context, phone string) (*models.Artisan, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(models.PhonePK(phone), "METADATA"),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get artisan from DynamoDB")
		return nil, fmt.Errorf("failed to get artisan: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var artisan models.Artisan
	if err := attributevalue.UnmarshalMap(result.Item, &artisan); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal artisan from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal artisan: %w", err)
	}

	return &artisan, nil
}

func (r *ArtisanRepository) GetByID(ctx context.Context, artisanID string) (*models.Artisan, error) {
	a := &models.Artisan{ArtisanID: artisanID}
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       key(a.GetPK(), a.GetSK()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get artisan: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var artisan models.Artisan
	if err := attributevalue.UnmarshalMap(result.Item, &artisan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artisan: %w", err)
	}

	return &artisan, nil
}

// Create writes the artisan item and the phone reservation in one
// transaction, so a phone can never map to two artisans.
func (r *ArtisanRepository) Create(ctx context.Context, artisan *models.Artisan) error {
	now := r.now().UTC()
	artisan.CreatedAt = now
	artisan.UpdatedAt = now

	item, err := attributevalue.MarshalMap(artisan)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal artisan for DynamoDB")
		return fmt.Errorf("failed to marshal artisan: %w", err)
	}

	phoneItem := make(map[string]types.AttributeValue, len(item)+2)
	for k, v := range item {
		phoneItem[k] = v
	}
	for k, v := range key(models.PhonePK(artisan.Phone), "METADATA") {
		phoneItem[k] = v
	}
	for k, v := range key(artisan.GetPK(), artisan.GetSK()) {
		item[k] = v
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                phoneItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if conditionFailed(cancellationCodes(err), 0) {
			return ErrArtisanExists
		}
		r.logger.WithError(err).Error("Failed to create artisan in DynamoDB")
		return fmt.Errorf("failed to create artisan: %w", err)
	}

	return nil
}
