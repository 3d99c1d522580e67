package api

import (
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/gin-gonic/gin"

	"github.com/0xb10c/mempool-addrindex/src/addrindex"
	"github.com/0xb10c/mempool-addrindex/src/types"
)

type BaseResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type AddressData struct {
	Address string               `json:"address"`
	Spends  []types.SpendRecord  `json:"spends"`
	Outputs []types.OutputRecord `json:"outputs"`
}

type AddressResp struct {
	BaseResp
	Data *AddressData `json:"data"`
}

type StatsResp struct {
	BaseResp
	Data *addrindex.Stats `json:"data"`
}

func errorResp(c *gin.Context, status int, msg string) {
	c.JSON(status, BaseResp{Code: -1, Msg: msg})
}

func (s *Service) health(c *gin.Context) {
	c.JSON(http.StatusOK, BaseResp{Code: 0, Msg: "ok"})
}

func (s *Service) address(c *gin.Context) {
	addrStr := c.Param("address")
	decoded, err := btcutil.DecodeAddress(addrStr, s.params)
	if err != nil || !decoded.IsForNet(s.params) {
		errorResp(c, http.StatusBadRequest, "invalid address "+addrStr)
		return
	}
	addr, err := types.NewAddress(decoded)
	if err != nil {
		errorResp(c, http.StatusBadRequest, err.Error())
		return
	}

	type result struct {
		err     error
		spends  []types.SpendRecord
		outputs []types.OutputRecord
	}
	done := make(chan result, 1)
	s.index.Query(addr, func(err error, spends []types.SpendRecord, outputs []types.OutputRecord) {
		done <- result{err, spends, outputs}
	})

	select {
	case res := <-done:
		if res.err != nil {
			log.WithError(res.err).WithField("address", addrStr).Error("query failed")
			errorResp(c, http.StatusServiceUnavailable, res.err.Error())
			return
		}
		c.JSON(http.StatusOK, AddressResp{
			BaseResp: BaseResp{Code: 0, Msg: "ok"},
			Data: &AddressData{
				Address: addrStr,
				Spends:  res.spends,
				Outputs: res.outputs,
			},
		})
	case <-time.After(s.queryTimeout):
		errorResp(c, http.StatusGatewayTimeout, "timed out waiting for the index")
	case <-c.Request.Context().Done():
	}
}

func (s *Service) stats(c *gin.Context) {
	done := make(chan addrindex.Stats, 1)
	s.index.Stats(func(stats addrindex.Stats) {
		done <- stats
	})

	select {
	case stats := <-done:
		c.JSON(http.StatusOK, StatsResp{
			BaseResp: BaseResp{Code: 0, Msg: "ok"},
			Data:     &stats,
		})
	case <-time.After(s.queryTimeout):
		errorResp(c, http.StatusGatewayTimeout, "timed out waiting for the index")
	case <-c.Request.Context().Done():
	}
}
