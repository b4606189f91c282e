// Package mongo implements store.Store on MongoDB. Group members are embedded
// in the group document.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	colUsers       = "users"
	colMessages    = "messages"
	colGroups      = "groups"
	colGroupMsgs   = "group_messages"
	colReadMarkers = "group_read_markers"
	colInvitations = "group_invitations"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, verifies the primary is reachable and ensures indexes.
func Connect(ctx context.Context, uri, database string, log *zap.Logger) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("MONGODB_URL environment variable is not set")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(database), log: log}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info("database connected", zap.String("driver", "mongo"), zap.String("database", database))
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colMessages: {
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		colGroups: {
			{Keys: bson.D{{Key: "members.user_id", Value: 1}}},
		},
		colGroupMsgs: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		colReadMarkers: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colInvitations: {
			{
				Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "invited_user_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(models.InvitationPending)}),
			},
		},
	}

	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Truncate removes every document but keeps indexes. Used by tests.
func (s *Store) Truncate(ctx context.Context) error {
	for _, name := range []string{colUsers, colMessages, colGroups, colGroupMsgs, colReadMarkers, colInvitations} {
		if _, err := s.db.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	doc := *u
	if doc.SecurityCodes == nil {
		doc.SecurityCodes = []string{}
	}
	_, err := s.db.Collection(colUsers).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.db.Collection(colUsers).FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := s.db.Collection(colUsers).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.User, error) {
	set := bson.M{}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.Bio != nil {
		set["bio"] = *upd.Bio
	}
	if upd.AvatarURL != nil {
		set["avatar_url"] = *upd.AvatarURL
	}
	if len(set) == 0 {
		return s.GetUserByID(ctx, id)
	}

	var u models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.db.Collection(colUsers).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u)
	if mongo.IsDuplicateKeyError(err) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) ResetPassword(ctx context.Context, email, code, passwordHash string) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"email": email, "security_codes": code},
		bson.M{
			"$set":  bson.M{"password_hash": passwordHash},
			"$pull": bson.M{"security_codes": code},
		})
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": online, "last_seen": at}})
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Messages

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.Collection(colMessages).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.db.Collection(colMessages).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) MarkRead(ctx context.Context, readerID string, ids []string) ([]models.ReadMessage, error) {
	coll := s.db.Collection(colMessages)
	filter := bson.M{"_id": bson.M{"$in": ids}, "receiver_id": readerID, "is_read": false}
	cur, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1, "sender_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	var candidates []models.Message
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, err
	}

	// Flip one at a time so a concurrent reader cannot claim the same message.
	var read []models.ReadMessage
	for _, m := range candidates {
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": m.ID, "is_read": false},
			bson.M{"$set": bson.M{"is_read": true}})
		if err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		if res.ModifiedCount == 1 {
			read = append(read, models.ReadMessage{ID: m.ID, SenderID: m.SenderID})
		}
	}
	return read, nil
}

// Groups

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	doc := *g
	if doc.Members == nil {
		doc.Members = []models.GroupMember{}
	}
	_, err := s.db.Collection(colGroups).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	if err := s.db.Collection(colGroups).FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.db.Collection(colGroups).Find(ctx, bson.M{"members.user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	groups := []models.Group{}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Store) UpdateGroup(ctx context.Context, id string, upd models.GroupUpdate) (*models.Group, error) {
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.PictureURL != nil {
		set["picture_url"] = *upd.PictureURL
	}
	if len(set) == 0 {
		return s.GetGroup(ctx, id)
	}

	var g models.Group
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.db.Collection(colGroups).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&g)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) AddMember(ctx context.Context, groupID string, m models.GroupMember) error {
	coll := s.db.Collection(colGroups)
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": groupID, "members.user_id": bson.M{"$ne": m.UserID}},
		bson.M{"$push": bson.M{"members": m}})
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": groupID})
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrAlreadyMember
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.Collection(colGroups).UpdateOne(ctx,
		bson.M{"_id": groupID, "members.user_id": userID},
		bson.M{"$pull": bson.M{"members": bson.M{"user_id": userID}}})
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertGroupMessage(ctx context.Context, m *models.GroupMessage) error {
	n, err := s.db.Collection(colGroups).CountDocuments(ctx, bson.M{"_id": m.GroupID})
	if err != nil {
		return fmt.Errorf("insert group message: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	if _, err := s.db.Collection(colGroupMsgs).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert group message: %w", err)
	}
	return nil
}

func (s *Store) GroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.db.Collection(colGroupMsgs).Find(ctx, bson.M{"group_id": groupID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query group messages: %w", err)
	}
	msgs := []models.GroupMessage{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) UpsertReadMarker(ctx context.Context, marker models.GroupReadMarker) error {
	_, err := s.db.Collection(colReadMarkers).UpdateOne(ctx,
		bson.M{"group_id": marker.GroupID, "user_id": marker.UserID},
		bson.M{"$set": bson.M{"timestamp": marker.Timestamp}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert read marker: %w", err)
	}
	return nil
}

func (s *Store) ReadMarkers(ctx context.Context, groupID string) ([]models.GroupReadMarker, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "user_id", Value: 1}}).
		SetProjection(bson.M{"_id": 0})
	cur, err := s.db.Collection(colReadMarkers).Find(ctx, bson.M{"group_id": groupID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query read markers: %w", err)
	}
	markers := []models.GroupReadMarker{}
	if err := cur.All(ctx, &markers); err != nil {
		return nil, err
	}
	return markers, nil
}

// Invitations

func (s *Store) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.db.Collection(colInvitations).InsertOne(ctx, inv)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrPendingInvitation
	}
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := s.db.Collection(colInvitations).FindOne(ctx, bson.M{"_id": id}).Decode(&inv); err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (s *Store) PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	filter := bson.M{"invited_user_id": userID, "status": string(models.InvitationPending)}
	cur, err := s.db.Collection(colInvitations).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query invitations: %w", err)
	}
	invs := []models.Invitation{}
	if err := cur.All(ctx, &invs); err != nil {
		return nil, err
	}
	return invs, nil
}

// RespondInvitation adds the member before closing the invitation, so a
// failed membership write leaves the invitation pending and retryable.
func (s *Store) RespondInvitation(ctx context.Context, id string, status models.InvitationStatus, at time.Time) (*models.Invitation, error) {
	current, err := s.GetInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.InvitationPending {
		return nil, store.ErrInvitationClosed
	}

	if status == models.InvitationAccepted {
		err := s.AddMember(ctx, current.GroupID, models.GroupMember{
			UserID:   current.InvitedUserID,
			Role:     models.RoleMember,
			JoinedAt: at,
		})
		if err != nil && !errors.Is(err, store.ErrAlreadyMember) {
			return nil, err
		}
	}

	var inv models.Invitation
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.db.Collection(colInvitations).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(models.InvitationPending)},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": at}},
		opts).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrInvitationClosed
	}
	if err != nil {
		return nil, fmt.Errorf("respond invitation: %w", err)
	}
	return &inv, nil
}
