package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"intake-agent/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"

	defaultTTL = 30 * 24 * time.Hour

	// DynamoDB caps a transaction at 100 items; one is the meta record.
	maxTurnsPerSave = 99
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps one META# item per session holding the snapshot without its turns,
// and one immutable TURN# item per transcript turn.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type DynamoOption func(*DynamoStore)

// WithTTL sets how long items live after their last write.
func WithTTL(ttl time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewDynamoStore(api dynamodbAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func sessionPK(id string) string {
	return "SESSION#" + id
}

func turnSK(seq int64) string {
	return fmt.Sprintf("%s%010d", skPrefixTurn, seq)
}

func (s *DynamoStore) ttlValue() int64 {
	return s.now().Add(s.ttl).Unix()
}

// Load reads the meta item and all turn items of a session.
func (s *DynamoStore) Load(ctx context.Context, id string) (domain.Session, error) {
	item, err := s.getMeta(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Load: %w", err)
	}
	if item == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	sess, err := itemToSession(item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Load decode meta: %w", err)
	}
	turns, err := s.queryTurns(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Load: %w", err)
	}
	sess.Turns = turns
	return sess, nil
}

// Save writes the snapshot and any turns not yet persisted in one transaction.
// The meta write is conditioned on the previous version.
func (s *DynamoStore) Save(ctx context.Context, sess domain.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	if sess.Version < 1 {
		return fmt.Errorf("repository: Save: invalid version %d", sess.Version)
	}

	item, err := s.getMeta(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	lastSeq, err := checkPrevious(item, sess.Version)
	if err != nil {
		return err
	}

	var fresh []domain.Turn
	for _, t := range sess.Turns {
		if t.Seq > lastSeq {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) > maxTurnsPerSave {
		return fmt.Errorf("repository: Save: %d new turns exceed the per-save limit of %d", len(fresh), maxTurnsPerSave)
	}
	if len(fresh) > 0 {
		lastSeq = fresh[len(fresh)-1].Seq
	}

	meta, err := s.metaItem(sess, lastSeq)
	if err != nil {
		return fmt.Errorf("repository: Save encode meta: %w", err)
	}
	metaPut := &types.Put{
		TableName: aws.String(s.tableName),
		Item:      meta,
	}
	if sess.Version == 1 {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		metaPut.ConditionExpression = aws.String("version = :prev")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.Version-1, 10)},
		}
	}

	items := []types.TransactWriteItem{{Put: metaPut}}
	for _, t := range fresh {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.tableName),
			Item:                s.turnItem(sess.ID, t),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		}})
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// checkPrevious compares the stored meta item against the version about to be written
// and returns the last persisted turn sequence.
func checkPrevious(item map[string]types.AttributeValue, version int64) (int64, error) {
	if version == 1 {
		if item != nil {
			return 0, domain.ErrVersionConflict
		}
		return 0, nil
	}
	if item == nil {
		return 0, domain.ErrVersionConflict
	}
	prev, err := intAttr(item, "version")
	if err != nil {
		return 0, fmt.Errorf("repository: Save decode version: %w", err)
	}
	if prev != version-1 {
		return 0, domain.ErrVersionConflict
	}
	lastSeq, err := intAttr(item, "lastSeq")
	if err != nil {
		return 0, fmt.Errorf("repository: Save decode lastSeq: %w", err)
	}
	return lastSeq, nil
}

func (s *DynamoStore) getMeta(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// queryTurns pages through all TURN# items in sequence order.
func (s *DynamoStore) queryTurns(ctx context.Context, id string) ([]domain.Turn, error) {
	turns := []domain.Turn{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(id)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query turns: %w", err)
		}
		for _, item := range out.Items {
			t, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("decode turn: %w", err)
			}
			turns = append(turns, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) metaItem(sess domain.Session, lastSeq int64) (map[string]types.AttributeValue, error) {
	body := sess
	body.Turns = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sess.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"sessionId": &types.AttributeValueMemberS{Value: sess.ID},
		"snapshot":  &types.AttributeValueMemberS{Value: string(raw)},
		"stage":     &types.AttributeValueMemberS{Value: string(sess.Stage)},
		"version":   &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.Version, 10)},
		"lastSeq":   &types.AttributeValueMemberN{Value: strconv.FormatInt(lastSeq, 10)},
		"updatedAt": &types.AttributeValueMemberS{Value: sess.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlValue(), 10)},
	}, nil
}

func (s *DynamoStore) turnItem(id string, t domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK":     &types.AttributeValueMemberS{Value: turnSK(t.Seq)},
		"seq":    &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Seq, 10)},
		"sender": &types.AttributeValueMemberS{Value: string(t.Sender)},
		"text":   &types.AttributeValueMemberS{Value: t.Text},
		"ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlValue(), 10)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	raw, err := strAttr(item, "snapshot")
	if err != nil {
		return domain.Session{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return domain.Session{}, fmt.Errorf("repository: unmarshal snapshot: %w", err)
	}
	sess.Version = version
	return sess, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{Seq: seq, Sender: domain.Sender(sender), Text: text}, nil
}

func isConditionFailure(err error) bool {
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for _, r := range cancelled.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
