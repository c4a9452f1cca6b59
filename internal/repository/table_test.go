package repository

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTableAdmin struct {
	createErr error
	created   *dynamodb.CreateTableInput
}

func (f *fakeTableAdmin) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = in
	return &dynamodb.CreateTableOutput{}, f.createErr
}

func (f *fakeTableAdmin) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func TestTableSchema(t *testing.T) {
	in := TableSchema("KarigarTable")

	assert.Equal(t, "KarigarTable", aws.ToString(in.TableName))
	require.Len(t, in.GlobalSecondaryIndexes, 1)
	assert.Equal(t, artisanIndex, aws.ToString(in.GlobalSecondaryIndexes[0].IndexName))
	assert.Equal(t, "GSI1PK", aws.ToString(in.GlobalSecondaryIndexes[0].KeySchema[0].AttributeName))
	assert.Len(t, in.AttributeDefinitions, 4)
}

func TestCreateTable(t *testing.T) {
	admin := &fakeTableAdmin{}
	require.NoError(t, CreateTable(context.Background(), admin, "KarigarTable"))
	require.NotNil(t, admin.created)

	existing := &fakeTableAdmin{createErr: &types.ResourceInUseException{Message: aws.String("exists")}}
	assert.NoError(t, CreateTable(context.Background(), existing, "KarigarTable"))

	failing := &fakeTableAdmin{createErr: &types.LimitExceededException{Message: aws.String("limit")}}
	assert.Error(t, CreateTable(context.Background(), failing, "KarigarTable"))
}
