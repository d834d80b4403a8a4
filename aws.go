package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	b64 "encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type DynamoDBUpdateItemAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type MetadataTableKey struct {
	Src string `dynamodbav:"src"`
}

// MetadataTable keeps a copy of each record's placeholder so that consumers
// outside the static site can look it up by src.
type MetadataTable struct {
	DynamoDBClient DynamoDBUpdateItemAPI
	TableName      string
}

func (table *MetadataTable) Put(ctx context.Context, image *ImageRecord, thumb *Thumbnail, updateAt string) error {
	key, err := attributevalue.MarshalMap(MetadataTableKey{Src: image.Src})
	if err != nil {
		return err
	}
	fileContent, err := os.ReadFile(thumb.Path)
	if err != nil {
		return err
	}

	update := expression.Set(expression.Name("blur_hash"), expression.Value(thumb.Hash)).
		Set(expression.Name("width"), expression.Value(thumb.Width)).
		Set(expression.Name("height"), expression.Value(thumb.Height)).
		Set(expression.Name("thumbnail_name"), expression.Value(thumbnailName(image.Src))).
		Set(expression.Name("thumbnail_sha256"), expression.Value(getSha256Checksum(&fileContent))).
		Set(expression.Name("update_at"), expression.Value(updateAt))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = table.DynamoDBClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table.TableName),
		Key:                       key,
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		UpdateExpression:          expr.Update(),
	})
	return err
}

func getSha256Checksum(fileContent *[]byte) string {
	h := sha256.New()
	_, err := io.Copy(h, bytes.NewReader(*fileContent))
	if err != nil {
		// hash.Hash writes never fail
		panic(err)
	}
	checksum := b64.StdEncoding.EncodeToString(h.Sum(nil))
	slog.Debug("Checksum calculated", "checksum", checksum)
	return checksum
}

// createSinks builds the optional publication targets. AWS credentials are
// only resolved when at least one target is configured.
func createSinks(ctx context.Context, conf *Configuration) ([]thumbnailSink, error) {
	if conf.S3Bucket == "" && conf.DynamoDBTable == "" {
		return nil, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var sinks []thumbnailSink
	if conf.S3Bucket != "" {
		slog.Info("Publishing thumbnails to S3", "bucket", conf.S3Bucket, "prefix", conf.S3Prefix)
		sinks = append(sinks, &S3FilesBucket{BucketName: conf.S3Bucket, Prefix: conf.S3Prefix, Client: s3.NewFromConfig(cfg)})
	}
	if conf.DynamoDBTable != "" {
		slog.Info("Recording placeholders in DynamoDB", "table", conf.DynamoDBTable)
		sinks = append(sinks, &MetadataTable{DynamoDBClient: dynamodb.NewFromConfig(cfg), TableName: conf.DynamoDBTable})
	}
	return sinks, nil
}
