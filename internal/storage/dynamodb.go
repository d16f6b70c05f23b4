package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

var _ Storage = (*DynamoDBStorage)(nil)

// stateItem is the table row. ExpiresAt is an epoch-seconds number so the
// table's native TTL can reap abandoned handshakes.
type stateItem struct {
	State        string `dynamodbav:"State"`
	AccessToken  string `dynamodbav:"AccessToken,omitempty"`
	RefreshToken string `dynamodbav:"RefreshToken,omitempty"`
	IdToken      string `dynamodbav:"IdToken,omitempty"`
	ExpiresAt    int64  `dynamodbav:"ExpiresAt,omitempty"`
}

// DynamoDBStorage keeps handshake records in a table keyed by State
type DynamoDBStorage struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewDynamoDBClient builds a client for region; endpoint overrides the AWS
// endpoint, e.g. for DynamoDB Local
func NewDynamoDBClient(region, endpoint string) (*dynamodb.DynamoDB, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return dynamodb.New(sess), nil
}

func NewDynamoDBStorage(client dynamodbiface.DynamoDBAPI, table string, ttl time.Duration) (*DynamoDBStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	return &DynamoDBStorage{client: client, table: table, ttl: ttl, now: time.Now}, nil
}

func (s *DynamoDBStorage) stateKey(stateID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"State": {S: aws.String(stateID)},
	}
}

func (s *DynamoDBStorage) Create(ctx context.Context, stateID string) (*AuthenticationState, error) {
	row := stateItem{State: stateID}
	if exp := expiry(s.now(), s.ttl); !exp.IsZero() {
		row.ExpiresAt = exp.Unix()
	}
	item, err := dynamodbattribute.MarshalMap(row)
	if err != nil {
		return nil, fmt.Errorf("marshal state item: %w", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return nil, backendError("create state", err)
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *DynamoDBStorage) Get(ctx context.Context, stateID string) (*AuthenticationState, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.stateKey(stateID),
		ProjectionExpression:     aws.String("#state, ExpiresAt"),
		ExpressionAttributeNames: map[string]*string{"#state": aws.String("State")},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return nil, backendError("get state", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrStateNotFound
	}

	var row stateItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &row); err != nil {
		return nil, backendError("decode state", err)
	}
	// TTL deletion is lazy on the DynamoDB side
	if row.ExpiresAt > 0 && !s.now().Before(time.Unix(row.ExpiresAt, 0)) {
		return nil, ErrStateNotFound
	}
	return &AuthenticationState{State: row.State}, nil
}

func (s *DynamoDBStorage) Update(ctx context.Context, state *AuthenticationState) error {
	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.stateKey(state.State),
		UpdateExpression:         aws.String("SET AccessToken = :access_token, RefreshToken = :refresh_token, IdToken = :id_token"),
		ConditionExpression:      aws.String("attribute_exists(#state)"),
		ExpressionAttributeNames: map[string]*string{"#state": aws.String("State")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":access_token":  {S: aws.String(state.AccessToken)},
			":refresh_token": {S: aws.String(state.RefreshToken)},
			":id_token":      {S: aws.String(state.IDToken)},
		},
	})
	if isConditionalCheckFailed(err) {
		return ErrStateNotFound
	}
	if err != nil {
		return backendError("update state", err)
	}
	return nil
}

// Pop is a single conditional DeleteItem, so the table itself arbitrates
// concurrent callers
func (s *DynamoDBStorage) Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	out, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.stateKey(stateID),
		// records past their TTL may linger until the table reaps them
		ConditionExpression: aws.String("RefreshToken = :refresh_token AND (attribute_not_exists(ExpiresAt) OR ExpiresAt > :now)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":refresh_token": {S: aws.String(refreshToken)},
			":now":           {N: aws.String(strconv.FormatInt(s.now().Unix(), 10))},
		},
		ReturnValues: aws.String(dynamodb.ReturnValueAllOld),
	})
	if isConditionalCheckFailed(err) {
		return nil, ErrPopConditionFailed
	}
	if err != nil {
		return nil, backendError("pop state", err)
	}

	var row stateItem
	if err := dynamodbattribute.UnmarshalMap(out.Attributes, &row); err != nil {
		return nil, backendError("decode popped state", err)
	}
	return &AuthenticationState{
		State:        stateID,
		AccessToken:  row.AccessToken,
		RefreshToken: refreshToken,
		IDToken:      row.IdToken,
	}, nil
}

func (s *DynamoDBStorage) Close() error {
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

