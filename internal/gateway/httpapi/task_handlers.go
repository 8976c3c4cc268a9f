package httpapi

import (
	"net/http"

	"github.com/jkaninda/ngao/internal/task"
	"github.com/jkaninda/okapi"
)

// TaskProfileResponse describes one task profile.
type TaskProfileResponse struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// TaskListResponse is the JSON response for GET /v1/tasks.
type TaskListResponse struct {
	Tasks []TaskProfileResponse `json:"tasks"`
	Count int                   `json:"count"`
}

// handleTaskList lists all task profiles. Repeating the tag query
// parameter narrows the list to profiles carrying any of the tags.
func (g *Gateway) handleTaskList(c *okapi.Context) error {
	var profiles []task.Profile
	if tags := c.Request().URL.Query()["tag"]; len(tags) > 0 {
		profiles = g.tasks.ByTags(tags...)
	} else {
		profiles = g.tasks.List()
	}

	resp := make([]TaskProfileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = taskProfileResponse(p)
	}
	return c.OK(TaskListResponse{Tasks: resp, Count: len(resp)})
}

// handleTaskGet returns one task profile. Unlike chat requests, an
// unknown type here is a 404 rather than a fallback to general chat.
func (g *Gateway) handleTaskGet(c *okapi.Context) error {
	raw := c.Param("type")
	if task.Parse(raw) != task.TaskType(raw) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "unknown task type"})
	}
	return c.OK(taskProfileResponse(g.tasks.Get(task.TaskType(raw))))
}

func taskProfileResponse(p task.Profile) TaskProfileResponse {
	return TaskProfileResponse{
		Type:        string(p.Type),
		Name:        p.Name,
		Description: p.Description,
		Tools:       p.Tools,
		Tags:        p.Tags,
	}
}
