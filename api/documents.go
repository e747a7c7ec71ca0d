/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/blnkfinance/einvoice"
	"github.com/blnkfinance/einvoice/api/middleware"
	model2 "github.com/blnkfinance/einvoice/api/model"
	"github.com/blnkfinance/einvoice/model"
	"github.com/gin-gonic/gin"
)

func queryFlag(c *gin.Context, name string) bool {
	v, ok := c.GetQuery(name)
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New(name + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

// bindOptionalJSON binds the body into obj, accepting an empty body.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (a Api) ListAll(c *gin.Context) {
	mode := einvoice.ModeNormal
	switch {
	case queryFlag(c, "realTime"):
		mode = einvoice.ModeRealtime
	case queryFlag(c, "polling"):
		mode = einvoice.ModePolling
	}

	resp, err := a.engine.ListAll(c.Request.Context(), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) RealTimeUpdates(c *gin.Context) {
	lastUpdate, err := queryTime(c, "lastUpdate")
	if err != nil {
		badRequest(c, err)
		return
	}
	lastFileCheck, err := queryTime(c, "lastFileCheck")
	if err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.RealTimeUpdates(c.Request.Context(), lastUpdate, lastFileCheck)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) Content(c *gin.Context) {
	var loc model2.Location
	if err := bindOptionalJSON(c, &loc); err != nil {
		badRequest(c, err)
		return
	}
	if err := loc.ValidateLocation(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.Content(c.Request.Context(), einvoice.SubmitRequest{
		ID:      c.Param("id"),
		Type:    loc.Type,
		Company: loc.Company,
		Date:    loc.Date,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) SubmitToLHDN(c *gin.Context) {
	var req model2.SubmitDocument
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateSubmitDocument(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.Submit(c.Request.Context(), einvoice.SubmitRequest{
		ID:      c.Param("id"),
		Type:    req.Type,
		Company: req.Company,
		Date:    req.Date,
		Version: req.Version,
		Token:   middleware.BearerToken(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) Cancel(c *gin.Context) {
	var req model2.CancelDocument
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateCancelDocument(); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := a.engine.Cancel(c.Request.Context(), einvoice.CancelInput{
		ID:          c.Param("id"),
		Reason:      req.Reason,
		CancelledBy: req.CancelledBy,
		Token:       middleware.BearerToken(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) Delete(c *gin.Context) {
	var loc model2.Location
	if err := c.ShouldBindQuery(&loc); err != nil {
		badRequest(c, err)
		return
	}
	if err := loc.ValidateFullLocation(); err != nil {
		badRequest(c, err)
		return
	}

	err := a.engine.Delete(c.Request.Context(), model.Location{
		Type:     loc.Type,
		Company:  loc.Company,
		Date:     loc.Date,
		FileName: c.Param("id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (a Api) BulkSubmit(c *gin.Context) {
	var req model2.BulkSubmit
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateBulkSubmit(); err != nil {
		badRequest(c, err)
		return
	}

	docs := make([]einvoice.SubmitRequest, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, einvoice.SubmitRequest{ID: d.ID, Type: d.Type, Company: d.Company, Date: d.Date})
	}
	resp, err := a.engine.BulkSubmit(c.Request.Context(), einvoice.BulkRequest{
		Documents: docs,
		Version:   req.Version,
		Token:     middleware.BearerToken(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": resp})
}

func (a Api) Details(c *gin.Context) {
	resp, err := a.engine.Details(c.Request.Context(), c.Param("id"), middleware.BearerToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
