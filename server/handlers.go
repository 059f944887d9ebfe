package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/nsearch/data/search"
)

type searchRequest struct {
	Query   string         `json:"query"`
	Options search.Options `json:"options"`
}

type multiSearchRequest struct {
	Queries []search.MultiQuery `json:"queries" binding:"required,dive"`
}

type indexInfo struct {
	Handle string        `json:"handle"`
	Name   string        `json:"name"`
	Engine search.Engine `json:"engine"`
}

func (s *Server) health(c *gin.Context) {
	indexes := s.client.Ping(c.Request.Context())
	for _, ok := range indexes {
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "indexes": indexes})
			return
		}
	}
	Success(c, gin.H{"status": "ok", "indexes": indexes})
}

func (s *Server) listIndexes(c *gin.Context) {
	indexes := s.client.Indexes()
	out := make([]indexInfo, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, indexInfo{Handle: idx.Handle, Name: idx.PhysicalName(), Engine: idx.Engine})
	}
	Success(c, out)
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, BadRequest(err.Error()))
		return
	}
	res, err := s.client.Search(c.Request.Context(), c.Param("handle"), req.Query, req.Options)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

func (s *Server) multiSearch(c *gin.Context) {
	var req multiSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, BadRequest(err.Error()))
		return
	}
	results, err := s.client.MultiSearch(c.Request.Context(), req.Queries)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"results": results})
}

func (s *Server) facetValues(c *gin.Context) {
	var req search.FacetValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, BadRequest(err.Error()))
		return
	}
	values, err := s.client.SearchFacetValues(c.Request.Context(), c.Param("handle"), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"facets": values})
}

func (s *Server) getDocument(c *gin.Context) {
	handle, id := c.Param("handle"), c.Param("id")
	doc, err := s.client.GetDocument(c.Request.Context(), handle, id)
	if err != nil {
		Fail(c, err)
		return
	}
	if doc == nil {
		Fail(c, NotFound("document "+id+" not found in "+handle))
		return
	}
	Success(c, doc)
}

func (s *Server) indexDocuments(c *gin.Context) {
	var docs []search.Document
	if err := c.ShouldBindJSON(&docs); err != nil {
		Fail(c, BadRequest(err.Error()))
		return
	}
	for i, doc := range docs {
		if doc.ID() == "" {
			Fail(c, BadRequest("document without objectID", gin.H{"position": i}))
			return
		}
	}
	res, err := s.client.IndexDocuments(c.Request.Context(), c.Param("handle"), docs)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

func (s *Server) deleteDocument(c *gin.Context) {
	res, err := s.client.DeleteDocuments(c.Request.Context(), c.Param("handle"), []string{c.Param("id")})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

func (s *Server) schema(c *gin.Context) {
	ctx, handle := c.Request.Context(), c.Param("handle")
	raw, err := s.client.GetIndexSchema(ctx, handle)
	if err != nil {
		Fail(c, err)
		return
	}
	fields, err := s.client.GetSchemaFields(ctx, handle)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"schema": raw, "fields": fields})
}

func (s *Server) count(c *gin.Context) {
	n, err := s.client.GetDocumentCount(c.Request.Context(), c.Param("handle"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"count": n})
}

func (s *Server) documentIDs(c *gin.Context) {
	ids, err := s.client.GetAllDocumentIDs(c.Request.Context(), c.Param("handle"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"ids": ids})
}
