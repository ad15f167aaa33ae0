package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"office_server/server/office/domain"
)

const (
	attachmentPrefix  = "attachments/"
	presignTTL        = 15 * time.Minute
	thumbnailMaxSide  = 320
	maxThumbnailInput = 20 << 20
)

// AttachmentService issues presigned URLs for chat attachments and renders
// thumbnails for uploaded images.
type AttachmentService struct {
	client *minio.Client
	bucket string
}

func NewAttachmentService(client *minio.Client, bucket string) *AttachmentService {
	return &AttachmentService{client: client, bucket: bucket}
}

// AttachmentObjectKey scopes a fresh object key to its uploader.
func AttachmentObjectKey(participantID, filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return attachmentPrefix + participantID + "/" + uuid.NewString() + ext
}

// OwnsAttachment reports whether key was issued to participantID.
func OwnsAttachment(participantID, key string) bool {
	return strings.HasPrefix(key, attachmentPrefix+participantID+"/") && !strings.Contains(key, "..")
}

func ThumbnailKey(objectKey string) string {
	return strings.TrimSuffix(objectKey, path.Ext(objectKey)) + "_thumb.jpg"
}

func (s *AttachmentService) PresignUpload(ctx context.Context, participantID, filename string) (string, string, error) {
	key := AttachmentObjectKey(participantID, filename)
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, presignTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return key, u.String(), nil
}

func (s *AttachmentService) PresignDownload(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

// Complete inspects an uploaded object and, for images, stores a thumbnail
// next to it.
func (s *AttachmentService) Complete(ctx context.Context, key string) (domain.Attachment, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("stat attachment: %w", err)
	}
	out := domain.Attachment{ObjectKey: key, ContentType: info.ContentType}
	if !strings.HasPrefix(info.ContentType, "image/") || info.Size > maxThumbnailInput {
		return out, nil
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return out, fmt.Errorf("get attachment: %w", err)
	}
	defer obj.Close()

	thumb, err := MakeThumbnail(obj)
	if err != nil {
		return out, nil
	}
	thumbKey := ThumbnailKey(key)
	reader := bytes.NewReader(thumb)
	if _, err := s.client.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return out, fmt.Errorf("upload thumb: %w", err)
	}
	out.ThumbnailKey = thumbKey
	return out, nil
}

// MakeThumbnail renders a centered 320x320 JPEG crop.
func MakeThumbnail(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, err
	}
	thumb := imaging.Thumbnail(img, thumbnailMaxSide, thumbnailMaxSide, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
