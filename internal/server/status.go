package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"ironcraft.dev/internal/protocol"
)

// versionName is the human-readable server version in the status document.
const versionName = "ironcraft"

// sampleSize caps how many player names the status document lists.
const sampleSize = 12

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayer struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type statusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []statusPlayer `json:"sample"`
}

type statusDescription struct {
	Text string `json:"text"`
}

// statusDocument is the JSON body of StatusResponse.
type statusDocument struct {
	Version     statusVersion     `json:"version"`
	Players     statusPlayers     `json:"players"`
	Description statusDescription `json:"description"`
	Favicon     string            `json:"favicon,omitempty"`
}

func (s *Server) statusJSON() (string, error) {
	doc := statusDocument{
		Version:     statusVersion{Name: versionName, Protocol: protocol.ProtocolVersion},
		Players:     statusPlayers{Max: s.opts.MaxPlayers, Online: s.online(), Sample: s.sample(sampleSize)},
		Description: statusDescription{Text: s.opts.MOTD},
		Favicon:     s.faviconURI(),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("status document: %w", err)
	}
	return string(b), nil
}

// faviconURI reads the configured favicon once per process and caches the
// data URI; a read failure is logged once and the field stays empty.
func (s *Server) faviconURI() string {
	s.favOnce.Do(func() {
		if s.opts.FaviconPath == "" {
			return
		}
		b, err := os.ReadFile(s.opts.FaviconPath)
		if err != nil {
			s.log.Printf("favicon %s: %v", s.opts.FaviconPath, err)
			return
		}
		s.favicon = "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
	})
	return s.favicon
}
