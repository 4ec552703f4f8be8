package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
	"fleetwire.org/internal/rt"
)

type createVehicleRequest struct {
	Plate    string `json:"plate"`
	Model    string `json:"model"`
	Status   string `json:"status"`
	DriverID string `json:"driverId"`
}

type patchVehicleRequest struct {
	Status   *string `json:"status"`
	DriverID *string `json:"driverId"`
}

type createOrderRequest struct {
	Reference      string `json:"reference"`
	PickupAddress  string `json:"pickupAddress"`
	DropoffAddress string `json:"dropoffAddress"`
	DriverID       string `json:"driverId"`
	VehicleID      string `json:"vehicleId"`
}

type patchOrderRequest struct {
	Status    *string `json:"status"`
	DriverID  *string `json:"driverId"`
	VehicleID *string `json:"vehicleId"`
}

func (a *API) handleVehiclesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		vehicles, err := a.fleet.Vehicles(r.Context())
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": vehicles})
	case http.MethodPost:
		var req createVehicleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		v := &fleet.Vehicle{
			Plate:    req.Plate,
			Model:    req.Model,
			Status:   fleet.VehicleStatus(req.Status),
			DriverID: req.DriverID,
		}
		if err := a.fleet.CreateVehicle(r.Context(), v); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleVehicleResource(w http.ResponseWriter, r *http.Request) {
	id := resourceID(r.URL.Path, "/fleet/vehicles/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := a.fleet.Vehicle(r.Context(), id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPatch:
		var req patchVehicleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var status *fleet.VehicleStatus
		if req.Status != nil {
			s := fleet.VehicleStatus(*req.Status)
			status = &s
		}
		v, err := a.fleet.UpdateVehicle(r.Context(), id, status, req.DriverID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleOrdersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orders, err := a.fleet.Orders(r.Context())
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orders})
	case http.MethodPost:
		var req createOrderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		o := &fleet.Order{
			Reference:      req.Reference,
			PickupAddress:  req.PickupAddress,
			DropoffAddress: req.DropoffAddress,
			DriverID:       req.DriverID,
			VehicleID:      req.VehicleID,
		}
		if err := a.fleet.CreateOrder(r.Context(), o); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrderResource(w http.ResponseWriter, r *http.Request) {
	id := resourceID(r.URL.Path, "/fleet/orders/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		o, err := a.fleet.Order(r.Context(), id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodPatch:
		var req patchOrderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var status *fleet.OrderStatus
		if req.Status != nil {
			s := fleet.OrderStatus(*req.Status)
			status = &s
		}
		o, err := a.fleet.UpdateOrder(r.Context(), id, status, req.DriverID, req.VehicleID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		// Tell the (re)assigned driver over their private channel.
		if a.gateway != nil && req.DriverID != nil && o.DriverID != "" {
			a.gateway.NotifyDriver(o.DriverID, rt.EventOrderAssigned, o)
		}
		writeJSON(w, http.StatusOK, o)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	locations, err := a.fleet.LatestLocations(r.Context())
	if err != nil {
		handleFleetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": locations})
}

func (a *API) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	orders, err := a.fleet.OrdersForDriver(r.Context(), user.ID)
	if err != nil {
		handleFleetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func resourceID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func handleFleetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fleet.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, fleet.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
