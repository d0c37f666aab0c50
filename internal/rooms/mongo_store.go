package rooms

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const roomsCollection = "rooms"

// MongoStore keeps room documents in a MongoDB collection keyed by room code.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore constructs a MongoStore over the provided database.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{collection: database.Collection(roomsCollection)}
}

// EnsureIndexes creates the secondary indexes the store queries by.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("rooms_owner_created"),
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, room Room) error {
	_, err := s.collection.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return ErrRoomExists
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, code RoomCode) (Room, error) {
	var room Room
	err := s.collection.FindOne(ctx, bson.M{"_id": code.String()}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	normalizeCollections(&room)
	return room, nil
}

func (s *MongoStore) Save(ctx context.Context, room Room) error {
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": room.Code.String()}, room)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *MongoStore) ListByOwner(ctx context.Context, ownerID string) ([]Room, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"ownerId": ownerID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rooms := []Room{}
	for cursor.Next(ctx) {
		var room Room
		if err := cursor.Decode(&room); err != nil {
			return nil, err
		}
		normalizeCollections(&room)
		rooms = append(rooms, room)
	}
	return rooms, cursor.Err()
}

func normalizeCollections(room *Room) {
	if room.Files == nil {
		room.Files = []File{}
	}
	if room.Participants == nil {
		room.Participants = []Participant{}
	}
}
