package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Field paths of the user documents written by the web application.
const (
	fieldUsername     = "public.username"
	fieldRequests     = "public.requests"
	fieldOnlineStatus = "public.activity.onlineStatus"
	fieldLastIn       = "public.activity.lastIn"
	fieldLiveRoom     = "public.activity.roomIds.live"

	fieldModel = "model.username"
	fieldFan   = "fan.username"
)

type userDoc struct {
	Public struct {
		Username string   `bson:"username"`
		Requests []string `bson:"requests"`
		Activity struct {
			OnlineStatus string `bson:"onlineStatus"`
			LastIn       int64  `bson:"lastIn"`
			RoomIDs      struct {
				Live string `bson:"live"`
			} `bson:"roomIds"`
		} `bson:"activity"`
	} `bson:"public"`
}

func (d userDoc) toDomain() *domain.User {
	u := &domain.User{
		Username:     d.Public.Username,
		OnlineStatus: domain.OnlineStatus(d.Public.Activity.OnlineStatus),
		LiveRoomID:   domain.RoomID(d.Public.Activity.RoomIDs.Live),
		Requests:     d.Public.Requests,
	}
	if d.Public.Activity.LastIn > 0 {
		u.LastIn = time.UnixMilli(d.Public.Activity.LastIn).UTC()
	}
	return u
}

type conversationDoc struct {
	Model struct {
		Username string `bson:"username"`
	} `bson:"model"`
	Fan struct {
		Username string `bson:"username"`
	} `bson:"fan"`
	ChatMessages []struct {
		Sender string `bson:"sender"`
		Text   string `bson:"text"`
		SentAt int64  `bson:"sentAt"`
	} `bson:"chatMessages"`
	LastUpdated int64 `bson:"lastUpdated"`
}

func (d conversationDoc) toDomain() *domain.Conversation {
	c := &domain.Conversation{
		Model:       d.Model.Username,
		Fan:         d.Fan.Username,
		Messages:    make([]domain.ConversationMessage, 0, len(d.ChatMessages)),
		LastUpdated: time.UnixMilli(d.LastUpdated).UTC(),
	}
	for _, m := range d.ChatMessages {
		c.Messages = append(c.Messages, domain.ConversationMessage{
			Sender: m.Sender,
			Text:   m.Text,
			SentAt: time.UnixMilli(m.SentAt).UTC(),
		})
	}
	return c
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Mongo is the document store shared with the web application: collection
// users for UserStore and messages for MessageStore.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
}

// ConnectMongo dials the server and checks it answers.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	log.Info().Str("module", "store.mongo").Str("db", cfg.Database).Msg("connected")
	return &Mongo{
		client:   client,
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Users and Messages expose the two store views of the same connection.
func (m *Mongo) Users() core.UserStore       { return mongoUsers{m.users} }
func (m *Mongo) Messages() core.MessageStore { return mongoMessages{m.messages} }

type mongoUsers struct {
	coll *mongo.Collection
}

func byUsername(username string) bson.M {
	return bson.M{fieldUsername: strings.ToLower(username)}
}

func (s mongoUsers) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (s mongoUsers) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOne(ctx, byUsername(username))
}

func (s mongoUsers) FindByLiveRoom(ctx context.Context, roomID domain.RoomID) (*domain.User, error) {
	if roomID == "" {
		return nil, core.ErrUserNotFound
	}
	return s.findOne(ctx, bson.M{fieldLiveRoom: string(roomID)})
}

func (s mongoUsers) UpdateStatus(ctx context.Context, username string, status domain.OnlineStatus) error {
	return s.update(ctx, username, statusUpdate(status, time.Now()))
}

func (s mongoUsers) UpdateLive(ctx context.Context, username string, status domain.OnlineStatus, liveRoom domain.RoomID) error {
	return s.update(ctx, username, bson.M{"$set": bson.M{
		fieldOnlineStatus: string(status),
		fieldLiveRoom:     string(liveRoom),
	}})
}

func (s mongoUsers) PushRequest(ctx context.Context, username, requester string) error {
	return s.update(ctx, username, bson.M{"$push": bson.M{fieldRequests: requester}})
}

func (s mongoUsers) PullRequest(ctx context.Context, username, requester string) error {
	return s.update(ctx, username, bson.M{"$pull": bson.M{fieldRequests: requester}})
}

func (s mongoUsers) update(ctx context.Context, username string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, byUsername(username), update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

// statusUpdate sets the status; going offline also records when.
func statusUpdate(status domain.OnlineStatus, now time.Time) bson.M {
	set := bson.M{fieldOnlineStatus: string(status)}
	if status == domain.StatusOffline {
		set[fieldLastIn] = now.UnixMilli()
	}
	return bson.M{"$set": set}
}

type mongoMessages struct {
	coll *mongo.Collection
}

func (s mongoMessages) FindConversation(ctx context.Context, model, fan string) (*domain.Conversation, error) {
	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{
		fieldModel: strings.ToLower(model),
		fieldFan:   strings.ToLower(fan),
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return doc.toDomain(), nil
}
