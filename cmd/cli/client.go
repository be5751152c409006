package main

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/reportmill/internal/models"
)

type apiClient struct {
	http *resty.Client
}

func newClient(baseURL string) *apiClient {
	return &apiClient{
		http: resty.New().SetBaseURL(baseURL + "/api/v1"),
	}
}

func (c *apiClient) ListDefinitions(tenant string) ([]models.ReportDefinition, error) {
	var defs []models.ReportDefinition
	req := c.http.R().SetResult(&defs)
	if tenant != "" {
		req.SetQueryParam("tenant", tenant)
	}
	resp, err := req.Get("/reports/definitions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s", resp.Status())
	}
	return defs, nil
}

func (c *apiClient) ListRuns(status string) ([]models.ReportRun, error) {
	var runs []models.ReportRun
	req := c.http.R().SetResult(&runs)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	resp, err := req.Get("/reports/runs")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s", resp.Status())
	}
	return runs, nil
}

func (c *apiClient) TriggerRun(definitionID uint) (*models.ReportRun, error) {
	var run models.ReportRun
	resp, err := c.http.R().
		SetBody(map[string]any{"definition_ref": definitionID, "triggered_by": "manual"}).
		SetResult(&run).
		Post("/reports/runs")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s", resp.Status())
	}
	return &run, nil
}

func (c *apiClient) CancelRun(id string) (*models.ReportRun, error) {
	var run models.ReportRun
	resp, err := c.http.R().
		SetResult(&run).
		Post(fmt.Sprintf("/reports/runs/%s/cancel", id))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s", resp.Status())
	}
	return &run, nil
}
