package mongopersistence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// DefaultDeadLetterCollection 死信集合名
const DefaultDeadLetterCollection = "chat_dead_letters"

// MongoDeadLetterRepository 把重试耗尽的聊天持久化任务写入 MongoDB。
type MongoDeadLetterRepository struct {
	collection *mongo.Collection
}

// NewMongoDeadLetterRepository 创建实例
func NewMongoDeadLetterRepository(client *mongo.Client, database, collection string) *MongoDeadLetterRepository {
	if client == nil {
		panic("mongo client cannot be nil for MongoDeadLetterRepository")
	}
	if collection == "" {
		collection = DefaultDeadLetterCollection
	}
	return &MongoDeadLetterRepository{collection: client.Database(database).Collection(collection)}
}

// Save 以 task_id 为键 upsert，同一任务重复归档只保留最后一次失败信息
func (r *MongoDeadLetterRepository) Save(ctx context.Context, letter domain.DeadLetter) error {
	filter := bson.M{"task_id": letter.TaskID}
	update := bson.M{"$set": letter}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save dead letter %s: %w", letter.TaskID, err)
	}
	return nil
}
