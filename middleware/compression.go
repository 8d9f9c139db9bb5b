package middleware

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmDeflate    = "deflate"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 6
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

type CompressionMiddleware struct {
	Base
	logger            types.Logger
	compressionConfig *CompressionConfig
	writerPool        sync.Pool
	bufferPool        utils.JSONBufferPool
}

type CompressionConfig struct {
	Algorithm    string   `json:"algorithm"`
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

type resettableWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func defaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{
		Algorithm: AlgorithmBrotli,
		Level:     DefaultLevel,
		Threshold: DefaultThreshold,
		AllowedTypes: []string{
			"application/json",
			"application/xml",
			"application/javascript",
			"text/*",
		},
	}
}

func NewCompressionMiddleware(params map[string]interface{}, logger types.Logger) *CompressionMiddleware {
	compressionConfig := defaultCompressionConfig()

	if params != nil {
		if err := utils.UnmarshalConfig(params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
		}
	}

	if err := validateCompressionConfig(compressionConfig); err != nil {
		logger.Warn("Invalid compression config, using defaults", zap.Error(err))
		compressionConfig = defaultCompressionConfig()
	}

	cm := &CompressionMiddleware{
		Base:              NewBase(KindCompression, types.PhasePostController, WithAfter(KindCacheStore)),
		logger:            logger,
		compressionConfig: compressionConfig,
	}

	cm.writerPool = sync.Pool{
		New: func() interface{} {
			return cm.newWriter()
		},
	}

	return cm
}

func validateCompressionConfig(config *CompressionConfig) error {
	if config.Level < -1 || config.Level > 9 {
		return fmt.Errorf("invalid compression level: %d (must be between -1 and 9)", config.Level)
	}

	if config.Threshold < 0 {
		return fmt.Errorf("invalid threshold: %d (must be >= 0)", config.Threshold)
	}

	switch config.Algorithm {
	case AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli:
		return nil
	default:
		return fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}
}

func (cm *CompressionMiddleware) Apply(c *types.Context) error {
	if !cm.supportsCompression(c.Header("Accept-Encoding")) {
		return nil
	}

	if c.ResponseHeader().Get("Content-Encoding") != "" {
		return nil
	}

	body, err := c.EncodeBody()
	if err != nil {
		return types.WrapError(err, "failed to encode response body")
	}

	if len(body) < cm.compressionConfig.Threshold || !cm.shouldCompress(c.ResponseHeader().Get("Content-Type")) {
		return nil
	}

	compressed, err := cm.compress(body)
	if err != nil {
		cm.logger.Warn("Compression failed", zap.Error(err), zap.Int("size", len(body)))
		return nil
	}

	if 1.0-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return nil
	}

	c.SetResponseBody(compressed)
	c.SetHeader("Content-Encoding", cm.compressionConfig.Algorithm)
	c.SetHeader("Content-Length", strconv.Itoa(len(compressed)))
	cm.addVary(c)

	return nil
}

func (cm *CompressionMiddleware) supportsCompression(acceptEncoding string) bool {
	if acceptEncoding == "" {
		return false
	}

	for _, part := range strings.Split(acceptEncoding, ",") {
		encoding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(encoding) != cm.compressionConfig.Algorithm {
			continue
		}
		return strings.ReplaceAll(params, " ", "") != "q=0"
	}

	return false
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	if contentType == "" {
		return false
	}

	if semicolon := strings.Index(contentType, ";"); semicolon != -1 {
		contentType = contentType[:semicolon]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	for _, allowedType := range cm.compressionConfig.AllowedTypes {
		if allowedType == contentType {
			return true
		}
		if strings.HasSuffix(allowedType, "*") && strings.HasPrefix(contentType, strings.TrimSuffix(allowedType, "*")) {
			return true
		}
	}

	return false
}

func (cm *CompressionMiddleware) compress(data []byte) ([]byte, error) {
	buf := cm.bufferPool.Get()
	defer cm.bufferPool.Put(buf)

	writer := cm.writerPool.Get().(resettableWriter)
	writer.Reset(buf)
	defer func() {
		writer.Reset(nil)
		cm.writerPool.Put(writer)
	}()

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (cm *CompressionMiddleware) newWriter() resettableWriter {
	switch cm.compressionConfig.Algorithm {
	case AlgorithmGzip:
		writer, _ := gzip.NewWriterLevel(nil, cm.compressionConfig.Level)
		return writer
	case AlgorithmDeflate:
		writer, _ := flate.NewWriter(nil, cm.compressionConfig.Level)
		return writer
	default:
		return brotli.NewWriterLevel(nil, cm.compressionConfig.Level)
	}
}

func (cm *CompressionMiddleware) addVary(c *types.Context) {
	existing := c.ResponseHeader().Get("Vary")
	if existing == "" {
		c.SetHeader("Vary", "Accept-Encoding")
		return
	}
	if !strings.Contains(existing, "Accept-Encoding") {
		c.SetHeader("Vary", existing+", Accept-Encoding")
	}
}
