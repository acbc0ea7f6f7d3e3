package request_test

import (
	"testing"

	"github.com/marmos91/dittostore/pkg/request"
	"github.com/stretchr/testify/assert"
)

func TestIDsKeepSubsetOrder(t *testing.T) {
	subset := request.WorkingSubset[request.DeleteRequest]{
		Name: "archive",
		Requests: []request.DeleteRequest{
			{ID: "r2", URL: "file:///b"},
			{ID: "r1", URL: "file:///a"},
			{ID: "r3", URL: "file:///c"},
		},
	}

	assert.Equal(t, 3, subset.Len())
	assert.Equal(t, []string{"r2", "r1", "r3"}, request.IDs(subset.Requests))
}

func TestIDsEmpty(t *testing.T) {
	assert.Empty(t, request.IDs[request.StoreRequest](nil))
	assert.Equal(t, 0, request.WorkingSubset[request.RestoreRequest]{}.Len())
}

func TestRequestIDs(t *testing.T) {
	var reqs []request.Request = []request.Request{
		request.StoreRequest{ID: "s"},
		request.DeleteRequest{ID: "d"},
		request.RestoreRequest{ID: "r"},
	}
	assert.Equal(t, []string{"s", "d", "r"}, request.IDs(reqs))
}
