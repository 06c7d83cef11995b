package client

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/0xPolygon/cdk-rpc/rpc"
	"github.com/defibridge/bridgedata/ledger"
	"github.com/defibridge/bridgedata/lifecycle"
	"github.com/defibridge/bridgedata/presentvalue"
	"github.com/defibridge/bridgedata/rpc/types"
)

var jSONRPCCall = rpc.JSONRPCCall

// ClientInterface is the interface that defines the implementation of all the endpoints
type ClientInterface interface {
	CanFinalise(nonce uint64) (bool, error)
	Interaction(nonce uint64) (*types.InteractionInfo, error)
	PresentValue(nonce uint64, inputValue *big.Int) (*presentvalue.Estimate, error)
	InteractionAPR(nonce uint64) (*presentvalue.Yield, error)
	Register(req lifecycle.RegisterRequest) (*lifecycle.RegisterResult, error)
	Finalise(nonce uint64) (*ledger.SettlementResult, error)
	PendingInteractions() ([]types.InteractionInfo, error)
}

// ClientFactoryInterface interface for the client factory
type ClientFactoryInterface interface {
	NewClient(url string) ClientInterface
}

// ClientFactory is the implementation of the client factory
type ClientFactory struct{}

// NewClient returns an implementation of the bridgedata client
func (f *ClientFactory) NewClient(url string) ClientInterface {
	return NewClient(url)
}

// Client wraps all the available endpoints of the bridgedata server
type Client struct {
	url string
}

// NewClient returns a client ready to be used
func NewClient(url string) *Client {
	return &Client{
		url: url,
	}
}

// call decodes the result of method into result, returning false on a null result
func (c *Client) call(result interface{}, method string, params ...interface{}) (bool, error) {
	response, err := jSONRPCCall(c.url, method, params...)
	if err != nil {
		return false, err
	}
	if response.Error != nil {
		return false, fmt.Errorf("error in the response calling %s: %v %v",
			method, response.Error.Code, response.Error.Message)
	}
	if len(response.Result) == 0 || string(response.Result) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(response.Result, result)
}

// CanFinalise returns true when the interaction can be finalised
func (c *Client) CanFinalise(nonce uint64) (bool, error) {
	var result bool
	_, err := c.call(&result, "bridgedata_canFinalise", nonce)
	return result, err
}

// Interaction returns the interaction registered under nonce
func (c *Client) Interaction(nonce uint64) (*types.InteractionInfo, error) {
	var result types.InteractionInfo
	if _, err := c.call(&result, "bridgedata_interaction", nonce); err != nil {
		return nil, err
	}
	return &result, nil
}

// PresentValue returns the present value estimate, nil when it can not be computed
func (c *Client) PresentValue(nonce uint64, inputValue *big.Int) (*presentvalue.Estimate, error) {
	var result presentvalue.Estimate
	found, err := c.call(&result, "bridgedata_presentValue", nonce, inputValue)
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}

// InteractionAPR returns the annualised yield, nil when unknown
func (c *Client) InteractionAPR(nonce uint64) (*presentvalue.Yield, error) {
	var result presentvalue.Yield
	found, err := c.call(&result, "bridgedata_interactionAPR", nonce)
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}

// Register dispatches a conversion
func (c *Client) Register(req lifecycle.RegisterRequest) (*lifecycle.RegisterResult, error) {
	var result lifecycle.RegisterResult
	if _, err := c.call(&result, "bridgedata_register", req); err != nil {
		return nil, err
	}
	return &result, nil
}

// Finalise settles a ready interaction
func (c *Client) Finalise(nonce uint64) (*ledger.SettlementResult, error) {
	var result ledger.SettlementResult
	if _, err := c.call(&result, "bridgedata_finalise", nonce); err != nil {
		return nil, err
	}
	return &result, nil
}

// PendingInteractions returns the interactions not finalised yet
func (c *Client) PendingInteractions() ([]types.InteractionInfo, error) {
	result := []types.InteractionInfo{}
	if _, err := c.call(&result, "bridgedata_pendingInteractions"); err != nil {
		return nil, err
	}
	return result, nil
}
