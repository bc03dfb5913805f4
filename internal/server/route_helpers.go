package server

import "net/http"

// routeByMethod dispatches on the HTTP method, answering 405 for anything
// the route does not support. Nil entries count as unsupported.
func routeByMethod(w http.ResponseWriter, r *http.Request, routes map[string]http.HandlerFunc) {
	if handler := routes[r.Method]; handler != nil {
		handler(w, r)
		return
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// routeCollection serves a resource root: GET lists, POST creates.
func routeCollection(w http.ResponseWriter, r *http.Request, list, create http.HandlerFunc) {
	routeByMethod(w, r, map[string]http.HandlerFunc{
		http.MethodGet:  list,
		http.MethodPost: create,
	})
}

// routeItem serves a resource element: GET, PUT, DELETE.
func routeItem(w http.ResponseWriter, r *http.Request, get, update, remove http.HandlerFunc) {
	routeByMethod(w, r, map[string]http.HandlerFunc{
		http.MethodGet:    get,
		http.MethodPut:    update,
		http.MethodDelete: remove,
	})
}
