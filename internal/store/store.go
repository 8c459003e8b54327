// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: record not found")

// zoomGSI is the secondary index on UserData keyed by provider identity.
const zoomGSI = "ZoomGSI"

// Store provides point lookups, scans and attribute-level updates over the
// three virtual-office tables.
type Store struct {
	db        *dynamodb.Client
	users     string
	active    string
	scheduled string
}

// New creates a Store over the given client and table names.
func New(db *dynamodb.Client, userTable, activeTable, scheduledTable string) *Store {
	return &Store{db: db, users: userTable, active: activeTable, scheduled: scheduledTable}
}

// GetUser fetches a user record by internal identity.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.users),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", userID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshalling user %q: %w", userID, err)
	}
	return &u, nil
}

// GetUserByZoomID fetches a user record by provider identity via the
// ZoomGSI secondary index.
func (s *Store) GetUserByZoomID(ctx context.Context, zoomID string) (*User, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.users),
		IndexName:              aws.String(zoomGSI),
		KeyConditionExpression: aws.String("zoomId = :zoomid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zoomid": &types.AttributeValueMemberS{Value: zoomID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying user by zoomId %q: %w", zoomID, err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, fmt.Errorf("unmarshalling user by zoomId %q: %w", zoomID, err)
	}
	return &u, nil
}

// ListUsers scans the full user directory.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.users),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning users: %w", err)
		}
		var page []User
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshalling users: %w", err)
		}
		users = append(users, page...)
		if out.LastEvaluatedKey == nil {
			return users, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// SetUserConnection records the user's current transport connection handle.
func (s *Store) SetUserConnection(ctx context.Context, userID, connectionID string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.users),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: aws.String("SET connectionId = :val1"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":val1": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		return fmt.Errorf("setting connection for user %q: %w", userID, err)
	}
	return nil
}

// ClearUserConnection removes the user's stored connection handle, used
// when a push discovers the connection has gone away.
func (s *Store) ClearUserConnection(ctx context.Context, userID string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.users),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: aws.String("REMOVE connectionId"),
	})
	if err != nil {
		return fmt.Errorf("clearing connection for user %q: %w", userID, err)
	}
	return nil
}

// SetUserLocation records which meeting the user is currently in. An empty
// meetingID clears the location.
func (s *Store) SetUserLocation(ctx context.Context, userID, meetingID string) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.users),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: userID},
		},
		// "location" is a DynamoDB reserved word.
		ExpressionAttributeNames: map[string]string{"#loc": "location"},
	}
	if meetingID == "" {
		input.UpdateExpression = aws.String("REMOVE #loc")
	} else {
		input.UpdateExpression = aws.String("SET #loc = :val1")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":val1": &types.AttributeValueMemberS{Value: meetingID},
		}
	}
	if _, err := s.db.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("setting location for user %q: %w", userID, err)
	}
	return nil
}

// AppendScheduledMeeting appends a meeting id to the user's
// scheduledMeetings list, creating the list when absent.
func (s *Store) AppendScheduledMeeting(ctx context.Context, userID, meetingID string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.users),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:         aws.String("SET #a = list_append(if_not_exists(#a, :empty_list), :x)"),
		ExpressionAttributeNames: map[string]string{"#a": "scheduledMeetings"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":x":          &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: meetingID}}},
			":empty_list": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		},
	})
	if err != nil {
		return fmt.Errorf("appending scheduled meeting for user %q: %w", userID, err)
	}
	return nil
}

// GetActiveMeeting fetches an active meeting record.
func (s *Store) GetActiveMeeting(ctx context.Context, meetingID string) (*ActiveMeeting, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.active),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting active meeting %q: %w", meetingID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var m ActiveMeeting
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling active meeting %q: %w", meetingID, err)
	}
	return &m, nil
}

// PutActiveMeeting writes a full active meeting record.
func (s *Store) PutActiveMeeting(ctx context.Context, m ActiveMeeting) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshalling active meeting %q: %w", m.MeetingID, err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.active),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting active meeting %q: %w", m.MeetingID, err)
	}
	return nil
}

// ListActiveMeetings scans all active meeting records.
func (s *Store) ListActiveMeetings(ctx context.Context) ([]ActiveMeeting, error) {
	var meetings []ActiveMeeting
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.active),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning active meetings: %w", err)
		}
		var page []ActiveMeeting
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshalling active meetings: %w", err)
		}
		meetings = append(meetings, page...)
		if out.LastEvaluatedKey == nil {
			return meetings, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// AddMember adds a display name to the meeting's member set. The set ADD is
// atomic and naturally idempotent, so concurrent or repeated joins cannot
// lose or duplicate an entry.
func (s *Store) AddMember(ctx context.Context, meetingID, displayName string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.active),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
		UpdateExpression: aws.String("ADD members :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: []string{displayName}},
		},
	})
	if err != nil {
		return fmt.Errorf("adding member to meeting %q: %w", meetingID, err)
	}
	return nil
}

// RemoveMember deletes a display name from the meeting's member set and
// returns the remaining member count. DynamoDB drops the set attribute when
// it empties, so a nil members attribute in the returned item means zero.
func (s *Store) RemoveMember(ctx context.Context, meetingID, displayName string) (int, error) {
	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.active),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
		UpdateExpression: aws.String("DELETE members :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberSS{Value: []string{displayName}},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("removing member from meeting %q: %w", meetingID, err)
	}
	members, ok := out.Attributes["members"].(*types.AttributeValueMemberSS)
	if !ok {
		return 0, nil
	}
	return len(members.Value), nil
}

// DeleteActiveMeeting removes an active meeting record unconditionally.
// Deleting an absent record is not an error.
func (s *Store) DeleteActiveMeeting(ctx context.Context, meetingID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.active),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting active meeting %q: %w", meetingID, err)
	}
	return nil
}

// DeleteActiveMeetingIfEmpty removes the record only while its member set
// is still absent. A conditional check failure means someone joined in the
// meantime and is treated as a no-op.
func (s *Store) DeleteActiveMeetingIfEmpty(ctx context.Context, meetingID string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.active),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
		ConditionExpression: aws.String("attribute_not_exists(members)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("deleting empty meeting %q: %w", meetingID, err)
	}
	return nil
}

// GetScheduledMeeting fetches a scheduled meeting record.
func (s *Store) GetScheduledMeeting(ctx context.Context, meetingID string) (*ScheduledMeeting, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.scheduled),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting scheduled meeting %q: %w", meetingID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var m ScheduledMeeting
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling scheduled meeting %q: %w", meetingID, err)
	}
	return &m, nil
}

// PutScheduledMeeting writes a full scheduled meeting record.
func (s *Store) PutScheduledMeeting(ctx context.Context, m ScheduledMeeting) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshalling scheduled meeting %q: %w", m.MeetingID, err)
	}
	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.scheduled),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting scheduled meeting %q: %w", m.MeetingID, err)
	}
	return nil
}

// AddParticipantJoined records that a scheduled participant has joined.
// Atomic and idempotent for the same reasons as AddMember.
func (s *Store) AddParticipantJoined(ctx context.Context, meetingID, userID string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.scheduled),
		Key: map[string]types.AttributeValue{
			"MeetingID": &types.AttributeValueMemberS{Value: meetingID},
		},
		UpdateExpression: aws.String("ADD participantsJoined :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberSS{Value: []string{userID}},
		},
	})
	if err != nil {
		return fmt.Errorf("adding joined participant to meeting %q: %w", meetingID, err)
	}
	return nil
}
