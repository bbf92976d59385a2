package mpih

import (
	"net/http"

	"github.com/benvvalk/mpih/journal"
	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
)

// statusService serves the read-only status API. It runs as a suture
// service beside the event loop and is stopped after the loop exits.
type statusService struct {
	d   *Daemon
	srv *http.Server
}

func newStatusService(d *Daemon, addr string) *statusService {
	mart := martini.Classic()
	mart.Use(render.Renderer(render.Options{
		IndentJSON: true,
	}))
	api(mart, d)
	return &statusService{
		d: d,
		srv: &http.Server{
			Addr:    addr,
			Handler: mart,
		},
	}
}

func (s *statusService) Serve() {
	err := s.srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.d.logger.Printf("error: status server: %v", err)
	}
}

func (s *statusService) Stop() {
	s.srv.Close()
}

type statusView struct {
	Rank        int                     `json:"rank"`
	Size        int                     `json:"size"`
	Connections int64                   `json:"connections"`
	Channels    map[string]*ChannelStat `json:"channels"`
}

func api(mart *martini.ClassicMartini, d *Daemon) {

	mart.Get("/status", func(r render.Render) {
		r.JSON(http.StatusOK, statusView{
			Rank:        d.Rank(),
			Size:        d.Size(),
			Connections: d.Stats().Connections.Int(),
			Channels:    d.Stats().Snapshot(),
		})
	})

	mart.Get("/journal", func(r render.Render) {
		recs := make([]journal.Record, 0)
		iter := d.Journal().NewIterator()
		for iter.Next() {
			recs = append(recs, iter.Value())
		}
		iter.Close()
		r.JSON(http.StatusOK, map[string][]journal.Record{"streams": recs})
	})
}
