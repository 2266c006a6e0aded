// Package preview streams live camera frames to browsers over WebSocket.
// Each connection subscribes to one camera's preview surface and receives
// JPEG-encoded frames as binary messages, latest frame wins.
package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zsiec/duet/capture"
	"github.com/zsiec/duet/media"
	"github.com/zsiec/duet/transform"
)

const jpegQuality = 70

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves one WebSocket endpoint per camera surface.
type Server struct {
	log      *slog.Logger
	surfaces map[string]*capture.Surface
}

// NewServer creates a preview server. Surfaces are registered by position
// name ("front", "back").
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "preview"),
		surfaces: make(map[string]*capture.Surface),
	}
}

// Register binds a camera surface to a position name.
func (s *Server) Register(position string, surface *capture.Surface) {
	s.surfaces[position] = surface
}

// Handler returns the HTTP handler for one registered position.
func (s *Server) Handler(position string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surface, ok := s.surfaces[position]
		if !ok {
			http.Error(w, "unknown camera", http.StatusNotFound)
			return
		}
		s.serve(w, r, position, surface)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, position string, surface *capture.Surface) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "camera", position, "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("preview client connected", "camera", position, "remote", conn.RemoteAddr())

	// Drain client messages so close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			s.log.Info("preview client disconnected", "camera", position)
			return
		case buf := <-surface.Frames():
			data, err := encodeJPEG(buf)
			if err != nil {
				s.log.Debug("preview frame encode failed", "camera", position, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.log.Debug("preview write failed", "camera", position, "error", err)
				return
			}
		}
	}
}

// encodeJPEG normalizes a raw camera buffer and compresses it.
func encodeJPEG(buf *media.PixelBuffer) ([]byte, error) {
	norm, err := transform.Normalize(buf)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, norm.Width, norm.Height))
	for y := 0; y < norm.Height; y++ {
		src := norm.Data[y*norm.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < norm.Width; x++ {
			// BGRA to RGBA.
			dst[x*4+0] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+0]
			dst[x*4+3] = src[x*4+3]
		}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
