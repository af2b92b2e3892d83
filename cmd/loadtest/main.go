package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status     int
	MerchantID string
	Err        error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	price := flag.String("price", "15000", "product price used for seeded orders")

	// 唯一性测试：N 个订单并发结算，商户订单号不得重复
	nOrders := flag.Int("orders", 200, "distinct orders")
	concurrency := flag.Int("c", 50, "max concurrency")
	// 限流测试：同一订单重复结算
	burst := flag.Int("burst", 50, "checkout requests against one order")
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}

	productID, err := createProduct(client, *baseURL, *price)
	if err != nil {
		panic(fmt.Sprintf("create product failed: %v", err))
	}
	fmt.Println("product ok:", productID)

	orderIDs := make([]uint, *nOrders)
	for i := range orderIDs {
		id, err := createOrder(client, *baseURL, productID, i)
		if err != nil {
			panic(fmt.Sprintf("create order %d failed: %v", i, err))
		}
		orderIDs[i] = id
	}
	fmt.Printf("orders ok: %d\n", len(orderIDs))

	// 1) 不同订单并发结算
	fmt.Printf("start uniqueness test: orders=%d concurrency=%d\n", *nOrders, *concurrency)
	results := runCheckout(client, *baseURL, orderIDs, *concurrency)
	printSummary("uniqueness", results)
	checkDistinct(results)

	// 2) 同一订单重复结算，超过阈值应出现 429
	fmt.Printf("\nstart rate limit test: order=%d requests=%d\n", orderIDs[0], *burst)
	same := make([]uint, *burst)
	for i := range same {
		same[i] = orderIDs[0]
	}
	results2 := runCheckout(client, *baseURL, same, *burst)
	printSummary("rate_limit", results2)
}

func runCheckout(client *http.Client, baseURL string, orderIDs []uint, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(orderIDs))

	for i, id := range orderIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, orderID uint) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = checkoutOnce(client, baseURL, orderID)
		}(i, id)
	}

	wg.Wait()
	return results
}

func checkoutOnce(client *http.Client, baseURL string, orderID uint) Result {
	status, env, err := doPOST(client, fmt.Sprintf("%s/api/orders/%d/checkout", baseURL, orderID), nil)
	if err != nil {
		return Result{Err: err}
	}
	res := Result{Status: status}
	if status == http.StatusOK {
		var data struct {
			MerchantID string `json:"merchant_id"`
		}
		if err := json.Unmarshal(env.Data, &data); err == nil {
			res.MerchantID = data.MerchantID
		}
	}
	return res
}

// checkDistinct 校验成功的结算没有拿到重复的商户订单号。
func checkDistinct(results []Result) {
	seen := map[string]int{}
	for _, r := range results {
		if r.MerchantID != "" {
			seen[r.MerchantID]++
		}
	}
	dup := 0
	for _, n := range seen {
		if n > 1 {
			dup += n - 1
		}
	}
	fmt.Printf("merchant ids: %d distinct, %d duplicated\n", len(seen), dup)
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 502} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func createProduct(client *http.Client, baseURL, price string) (uint, error) {
	status, env, err := doPOST(client, baseURL+"/api/products", map[string]any{
		"name":  "loadtest item",
		"price": price,
	})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var p struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return 0, err
	}
	return p.ID, nil
}

func createOrder(client *http.Client, baseURL string, productID uint, n int) (uint, error) {
	status, env, err := doPOST(client, baseURL+"/api/orders", map[string]any{
		"first_name":  "Load",
		"last_name":   fmt.Sprintf("Tester%d", n),
		"email":       fmt.Sprintf("load%d@example.com", n),
		"address":     "1 Teheran-ro",
		"postal_code": "06236",
		"city":        "Seoul",
		"items":       []map[string]any{{"product_id": productID, "quantity": 1}},
	})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var o struct {
		Order struct {
			ID uint `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(env.Data, &o); err != nil {
		return 0, err
	}
	return o.Order.ID, nil
}

// doPOST 发送 JSON POST 并解析统一响应结构。
func doPOST(client *http.Client, url string, body any) (int, envelope, error) {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var env envelope
	_ = json.Unmarshal(b, &env)
	return resp.StatusCode, env, nil
}
